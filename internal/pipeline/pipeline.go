// Package pipeline generates the datacards of configured channels:
// histogram merge, registry extraction, mutations and card writing.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/datacard"
	"github.com/tzq-analysis/cardgen/internal/extract"
	"github.com/tzq-analysis/cardgen/internal/flags"
	"github.com/tzq-analysis/cardgen/internal/histstore"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/processes"
	"github.com/tzq-analysis/cardgen/internal/tracing"
)

// Hadder merges histogram files.
type Hadder interface {
	Hadd(ctx context.Context, target string, inputs ...string) error
}

// invalidator is implemented by caching stores.
type invalidator interface {
	Invalidate(ctx context.Context, path string)
}

// Pipeline generates channel cards.
type Pipeline struct {
	store  histstore.Store
	hadder Hadder
	flags  *flags.Registry
	tracer trace.Tracer
	limit  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHadder sets the tool used to merge channel inputs.
func WithHadder(h Hadder) Option {
	return func(p *Pipeline) { p.hadder = h }
}

// WithFlags sets the feature flags.
func WithFlags(f *flags.Registry) Option {
	return func(p *Pipeline) { p.flags = f }
}

// WithTracer sets the tracer for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithConcurrency bounds the number of channels generated at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.limit = n }
}

// New returns a Pipeline reading histograms from store.
func New(store histstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ChannelResult is the outcome of one channel.
type ChannelResult struct {
	Channel     string
	Card        string
	Processes   int
	Systematics int
	Err         error
}

// Generate writes the card of every channel into dir. Channels are
// independent and run concurrently. Inputs shared by several channels are
// merged once, before any channel runs. Without the keep-going flag the
// first failure cancels the remaining channels and is returned; with it
// failures are logged and recorded in the results only.
func (p *Pipeline) Generate(ctx context.Context, dir string, channels []config.ChannelConfig) ([]ChannelResult, error) {
	ctx, span := tracing.Start(ctx, p.tracer, tracing.SpanGenerate, attribute.Int("cardgen.channels", len(channels)))
	keepGoing := p.flags.Enabled(flags.FlagKeepGoing)

	mergeErrs := p.mergeTargets(ctx, dir, channels)

	results := make([]ChannelResult, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i, ch := range channels {
		g.Go(func() error {
			var res ChannelResult
			var err error
			if mergeErr := mergeErrs[resolve(dir, ch.HistogramFile)]; mergeErr != nil {
				res, err = ChannelResult{Channel: ch.Name}, fmt.Errorf("channel %s: %w", ch.Name, mergeErr)
			} else {
				res, err = p.generateChannel(gctx, dir, ch, false)
			}
			res.Err = err
			results[i] = res
			if err == nil {
				return nil
			}
			if keepGoing {
				log.Warn(log.CatPipeline, "channel failed, continuing", "channel", ch.Name, "error", err)
				trace.SpanFromContext(ctx).AddEvent(tracing.EventChannelSkipped,
					trace.WithAttributes(attribute.String(tracing.AttrChannel, ch.Name)))
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	tracing.End(span, err)
	return results, err
}

// mergeTargets runs hadd once per distinct merge target of channels and
// returns the failures by target path.
func (p *Pipeline) mergeTargets(ctx context.Context, dir string, channels []config.ChannelConfig) map[string]error {
	errs := make(map[string]error)
	done := make(map[string]bool)
	for _, ch := range channels {
		if len(ch.Inputs) == 0 {
			continue
		}
		target := resolve(dir, ch.HistogramFile)
		if done[target] {
			continue
		}
		done[target] = true
		if err := p.merge(ctx, dir, target, ch.Inputs); err != nil {
			errs[target] = err
		}
	}
	return errs
}

// GenerateChannel builds and writes the card of one channel.
func (p *Pipeline) GenerateChannel(ctx context.Context, dir string, ch config.ChannelConfig) (ChannelResult, error) {
	return p.generateChannel(ctx, dir, ch, true)
}

func (p *Pipeline) generateChannel(ctx context.Context, dir string, ch config.ChannelConfig, merge bool) (ChannelResult, error) {
	ctx, span := tracing.Start(ctx, p.tracer, tracing.SpanChannel,
		attribute.String(tracing.AttrChannel, ch.Name),
		attribute.String(tracing.AttrVariable, ch.Variable),
	)
	res := ChannelResult{Channel: ch.Name}

	reg, opts, err := p.build(ctx, dir, ch, merge)
	if err == nil {
		_, wspan := tracing.Start(ctx, p.tracer, tracing.SpanWriteCard)
		res.Card, err = datacard.Write(dir, reg, opts)
		tracing.End(wspan, err)
	}
	if err != nil {
		err = fmt.Errorf("channel %s: %w", ch.Name, err)
		tracing.End(span, err)
		return res, err
	}

	res.Processes = reg.Len()
	res.Systematics = len(reg.Systematics())
	span.SetAttributes(
		attribute.Int(tracing.AttrProcesses, res.Processes),
		attribute.Int(tracing.AttrSystematics, res.Systematics),
	)
	tracing.End(span, nil)
	log.Info(log.CatPipeline, "generated card", "channel", ch.Name, "card", res.Card,
		"processes", res.Processes, "systematics", res.Systematics)
	return res, nil
}

// Render returns the card text of one channel without writing it.
func (p *Pipeline) Render(ctx context.Context, dir string, ch config.ChannelConfig) ([]byte, error) {
	reg, opts, err := p.Build(ctx, dir, ch)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
	}
	return datacard.Render(reg, opts)
}

// Build merges the channel inputs, extracts the registry, applies the
// configured mutations and returns the registry with the card options.
func (p *Pipeline) Build(ctx context.Context, dir string, ch config.ChannelConfig) (*processes.Registry, datacard.Options, error) {
	return p.build(ctx, dir, ch, true)
}

func (p *Pipeline) build(ctx context.Context, dir string, ch config.ChannelConfig, merge bool) (*processes.Registry, datacard.Options, error) {
	histPath := resolve(dir, ch.HistogramFile)

	if merge && len(ch.Inputs) > 0 {
		if err := p.merge(ctx, dir, histPath, ch.Inputs); err != nil {
			return nil, datacard.Options{}, err
		}
	}

	_, espan := tracing.Start(ctx, p.tracer, tracing.SpanExtract)
	reg, err := extract.FromStore(ctx, p.store, histPath, ch.Variable, extract.Options{
		SignalTags:  ch.SignalTags,
		DataTag:     ch.DataTag,
		Exclude:     ch.Exclude,
		RequireDown: p.flags.Enabled(flags.FlagRequireDownVariation),
	})
	tracing.End(espan, err)
	if err != nil {
		return nil, datacard.Options{}, err
	}

	if err := Apply(reg, ch); err != nil {
		return nil, datacard.Options{}, err
	}

	opts := datacard.DefaultOptions(ch.Name, ch.Variable, ch.HistogramFile)
	if ch.DataTag != "" {
		opts.DataTag = ch.DataTag
	}
	if ch.AutoMCStats > 0 {
		opts.AutoMCStatsThreshold = ch.AutoMCStats
	}
	opts.Shape, opts.LnN = selectSystematics(reg, ch)
	opts.RateParams = ch.RateParams
	if ch.Ratio != nil {
		opts.Ratio = &datacard.Ratio{Name: ch.Ratio.Name, Numerator: ch.Ratio.Numerator, Denominator: ch.Ratio.Denominator}
	}
	if p.flags.Enabled(flags.FlagObservationFromData) {
		obs, err := p.observation(ctx, histPath, opts)
		if err != nil {
			return nil, datacard.Options{}, err
		}
		opts.Observation = obs
	}
	return reg, opts, nil
}

func (p *Pipeline) merge(ctx context.Context, dir, target string, inputs []string) error {
	if p.hadder == nil {
		return fmt.Errorf("merge inputs into %s: no hadd tool configured", target)
	}
	abs := make([]string, len(inputs))
	for i, in := range inputs {
		abs[i] = resolve(dir, in)
	}
	ctx, span := tracing.Start(ctx, p.tracer, tracing.SpanHadd, attribute.Int("cardgen.inputs", len(abs)))
	err := p.hadder.Hadd(ctx, target, abs...)
	tracing.End(span, err)
	if err != nil {
		return fmt.Errorf("merge inputs into %s: %w", target, err)
	}
	if inv, ok := p.store.(invalidator); ok {
		inv.Invalidate(ctx, target)
	}
	log.Debug(log.CatPipeline, "merged inputs", "target", target, "inputs", len(abs))
	return nil
}

// observation reads the integral of the data histogram. A missing data
// histogram falls back to -1 with a warning.
func (p *Pipeline) observation(ctx context.Context, histPath string, opts datacard.Options) (*float64, error) {
	name := extract.HistogramName(opts.DataTag, opts.Variable, extract.Nominal)
	v, ok, err := p.store.Integral(ctx, histPath, name)
	if err != nil {
		return nil, fmt.Errorf("read observation: %w", err)
	}
	if !ok {
		log.Warn(log.CatPipeline, "data histogram missing, observation left to the fit engine",
			"channel", opts.Channel, "histogram", name)
		return nil, nil
	}
	return &v, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
