package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/tracing"
)

// Dispatch modes.
const (
	DispatchLocal     = "local"
	DispatchScheduler = "scheduler"
)

// Dispatcher starts one job.
type Dispatcher interface {
	Submit(ctx context.Context, job Job) error
}

// LocalDispatcher runs job scripts with sh and waits for them.
type LocalDispatcher struct {
	runner executor.Runner
}

// NewLocalDispatcher returns a LocalDispatcher using runner.
func NewLocalDispatcher(runner executor.Runner) *LocalDispatcher {
	return &LocalDispatcher{runner: runner}
}

// Submit runs the script. A failing fit is an UpstreamToolError; its log
// is the job's Log file.
func (d *LocalDispatcher) Submit(ctx context.Context, job Job) error {
	_, err := executor.RunChecked(ctx, d.runner, executor.Command{
		Name: "sh",
		Args: []string{job.Script},
		Dir:  job.Dir,
	})
	if err != nil {
		return fmt.Errorf("job %s (%s, %s): %w", job.ID, job.Card, job.Method, err)
	}
	log.Info(log.CatJobs, "job finished", "card", job.Card, "method", job.Method, "log", job.Log)
	return nil
}

// SchedulerDispatcher hands scripts to a batch scheduler such as qsub,
// sbatch or condor_submit. Submit returns once the scheduler accepted the job.
type SchedulerDispatcher struct {
	runner  executor.Runner
	command []string
}

// NewSchedulerDispatcher returns a dispatcher running command with the
// script path appended.
func NewSchedulerDispatcher(runner executor.Runner, command []string) (*SchedulerDispatcher, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("scheduler dispatch: no submit command configured")
	}
	return &SchedulerDispatcher{runner: runner, command: command}, nil
}

// Submit submits the script.
func (d *SchedulerDispatcher) Submit(ctx context.Context, job Job) error {
	args := append(append([]string(nil), d.command[1:]...), job.Script)
	res, err := executor.RunChecked(ctx, d.runner, executor.Command{
		Name: d.command[0],
		Args: args,
		Dir:  job.Dir,
	})
	if err != nil {
		return fmt.Errorf("submit job %s (%s, %s): %w", job.ID, job.Card, job.Method, err)
	}
	log.Info(log.CatJobs, "job submitted", "card", job.Card, "method", job.Method,
		"scheduler", strings.TrimSpace(res.Stdout))
	return nil
}

// DispatchOptions controls DispatchAll.
type DispatchOptions struct {
	// Limit bounds the number of jobs in flight; zero or less means no limit.
	Limit int

	// KeepGoing dispatches every job even after failures. Otherwise the
	// first failure cancels the jobs not yet started.
	KeepGoing bool

	Tracer trace.Tracer
}

// DispatchAll submits every job and returns the joined errors of the jobs
// that failed.
func DispatchAll(ctx context.Context, d Dispatcher, jobs []Job, opts DispatchOptions) error {
	ctx, span := tracing.Start(ctx, opts.Tracer, tracing.SpanDispatch, attribute.Int("cardgen.jobs", len(jobs)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			jctx, jspan := tracing.Start(gctx, opts.Tracer, tracing.SpanJob,
				attribute.String(tracing.AttrJobID, job.ID),
				attribute.String(tracing.AttrCard, job.Card),
				attribute.String(tracing.AttrMethod, job.Method),
			)
			err := d.Submit(jctx, job)
			tracing.End(jspan, err)
			if err == nil {
				return nil
			}

			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			if opts.KeepGoing {
				log.Warn(log.CatJobs, "job failed, continuing", "card", job.Card, "method", job.Method, "error", err)
				return nil
			}
			return err
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err == nil {
		err = ctx.Err()
	}
	tracing.End(span, err)
	return err
}
