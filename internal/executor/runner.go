package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tzq-analysis/cardgen/internal/log"
)

var (
	// ErrToolNotFound indicates the tool binary is not on PATH.
	ErrToolNotFound = errors.New("tool not found")

	// ErrTimeout indicates the context deadline passed before the tool exited.
	ErrTimeout = errors.New("tool timed out")
)

// UpstreamToolError is returned when a tool exits with a nonzero code.
type UpstreamToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *UpstreamToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// waitDelay bounds how long Run waits for output pipes after the process
// is killed, since grandchildren may still hold them open.
const waitDelay = 2 * time.Second

// Compile-time check that RealRunner implements Runner.
var _ Runner = (*RealRunner)(nil)

// RealRunner runs commands with os/exec.
type RealRunner struct {
	// Timeout bounds each command; zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewRealRunner creates a RealRunner.
func NewRealRunner(timeout time.Duration) *RealRunner {
	return &RealRunner{Timeout: timeout}
}

func (r *RealRunner) Run(ctx context.Context, c Command) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	//nolint:gosec // G204: tool names come from configuration
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	log.Debug(log.CatExec, "running tool", "cmd", c.String(), "dir", c.Dir)
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return res, fmt.Errorf("%s: %w after %s", c.Name, ErrTimeout, time.Since(start).Round(time.Millisecond))
		case ctx.Err() != nil:
			return res, fmt.Errorf("%s: %w", c.Name, ctx.Err())
		case errors.Is(err, exec.ErrNotFound):
			return res, fmt.Errorf("%s: %w", c.Name, ErrToolNotFound)
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return res, fmt.Errorf("run %s: %w", c.Name, err)
		}
	}

	log.Debug(log.CatExec, "tool finished", "cmd", c.Name, "exit", res.ExitCode,
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// RunChecked runs c and turns a nonzero exit code into an UpstreamToolError.
func RunChecked(ctx context.Context, r Runner, c Command) (Result, error) {
	res, err := r.Run(ctx, c)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		log.Warn(log.CatExec, "tool failed", "cmd", c.String(), "exit", res.ExitCode)
		return res, &UpstreamToolError{Tool: c.Name, Args: c.Args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}
