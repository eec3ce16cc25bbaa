package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/flags"
	"github.com/tzq-analysis/cardgen/internal/histstore"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/paths"
	"github.com/tzq-analysis/cardgen/internal/pipeline"
	"github.com/tzq-analysis/cardgen/internal/results"
	"github.com/tzq-analysis/cardgen/internal/tracing"
)

// env is what a command needs once the config has been validated.
type env struct {
	cfg     config.Config
	flags   *flags.Registry
	tracing *tracing.Provider
	runner  executor.Runner
}

// newEnv validates the loaded config and sets up flags and tracing.
// Callers must Close the env.
func newEnv(cmd *cobra.Command) (*env, error) {
	if configErr != nil {
		return nil, configErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath(), err)
	}

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	if tp.Enabled() {
		log.Debug(log.CatConfig, "tracing enabled", "exporter", cfg.Tracing.Exporter)
	}

	return &env{
		cfg:     cfg,
		flags:   buildFlags(cmd, cfg.Flags),
		tracing: tp,
		runner:  executor.NewRealRunner(cfg.Jobs.Timeout),
	}, nil
}

// buildFlags applies the --keep-going override to the configured flags.
func buildFlags(cmd *cobra.Command, configured map[string]bool) *flags.Registry {
	fl := flags.New(configured)
	if cmd.Flags().Changed("keep-going") {
		v, _ := cmd.Flags().GetBool("keep-going")
		fl = fl.With(flags.FlagKeepGoing, v)
	}
	return fl
}

// Close flushes pending spans.
func (e *env) Close(ctx context.Context) {
	if err := e.tracing.Shutdown(ctx); err != nil {
		log.Warn(log.CatConfig, "tracing shutdown failed", "error", err)
	}
}

func (e *env) outputDir() string {
	return e.cfg.OutputDir
}

func (e *env) fitEngine() *executor.FitEngine {
	return executor.NewFitEngine(e.runner, e.cfg.Tools)
}

// store returns the histogram store, cached unless cache.ttl is zero.
func (e *env) store() histstore.Store {
	var s histstore.Store = histstore.NewByExtension()
	if e.cfg.Cache.TTL > 0 {
		s = histstore.NewCached(s, e.cfg.Cache.TTL)
	}
	return s
}

func (e *env) pipeline() *pipeline.Pipeline {
	return pipeline.New(e.store(),
		pipeline.WithHadder(e.fitEngine()),
		pipeline.WithFlags(e.flags),
		pipeline.WithTracer(e.tracing.Tracer()),
		pipeline.WithConcurrency(e.cfg.Concurrency),
	)
}

// channels returns the named channels, or all of them when names is empty.
func (e *env) channels(names []string) ([]config.ChannelConfig, error) {
	if len(names) == 0 {
		if len(e.cfg.Channels) == 0 {
			return nil, fmt.Errorf("no channels configured in %s", configPath())
		}
		return e.cfg.Channels, nil
	}
	out := make([]config.ChannelConfig, 0, len(names))
	for _, n := range names {
		ch, ok := e.cfg.Channel(n)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", n)
		}
		out = append(out, ch)
	}
	return out, nil
}

// openResults opens the results database of the project.
func openResults() (*results.DB, error) {
	return results.Open(paths.ResultsDB(paths.ResolveProjectDir(projectDir)))
}

// relativeTo returns path relative to dir when it lies inside dir.
func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
