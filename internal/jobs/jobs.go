// Package jobs turns job configs into queue actions.
//
// Every action runs on a future.Task, so cancelling it through the queue
// cancels the context the work observes (a sleep stops early, a child process
// is killed).
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"actionqueue/internal/config"
	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
	"actionqueue/pkg/systemd"
)

const (
	defaultMaxOutput = 4096
	// waitDelay bounds how long a killed command may keep its output pipes open.
	waitDelay = time.Second
)

var ErrUnknownKind = errors.New("jobs: unknown kind")

// Result is the single value a job resolves with.
type Result struct {
	Job      string        `json:"job"`
	Output   string        `json:"output,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	ExitCode int           `json:"exit_code"`
}

// ExecError is the rejection of a command that ran and failed.
type ExecError struct {
	Job      string
	ExitCode int // -1 when the process did not exit normally
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("job %s: exit %d: %v", e.Job, e.ExitCode, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Builder creates actions. The zero value is ready to use.
type Builder struct {
	// Systemd runs systemd jobs (default: systemctl from PATH).
	Systemd systemd.Controller
	// MaxOutput caps captured command output in bytes (default 4096).
	MaxOutput int
}

// Build validates job and returns the action that performs it.
func (b Builder) Build(job config.JobConfig) (actionqueue.Action, error) {
	name := strings.TrimSpace(job.Name)
	switch job.Kind {
	case config.KindSleep:
		d, err := config.ParseDurationField("duration", job.Duration)
		if err != nil {
			return nil, err
		}
		return func() future.Awaitable { return sleep(name, d) }, nil

	case config.KindExec:
		timeout, err := config.ParseDurationField("timeout", job.Timeout)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(job.Command) == "" {
			return nil, fmt.Errorf("job %s: command is required", name)
		}
		args := append([]string(nil), job.Args...)
		return func() future.Awaitable {
			return b.run(name, timeout, func(ctx context.Context) *exec.Cmd {
				return exec.CommandContext(ctx, job.Command, args...)
			})
		}, nil

	case config.KindSystemd:
		timeout, err := config.ParseDurationField("timeout", job.Timeout)
		if err != nil {
			return nil, err
		}
		if !systemd.ValidOp(job.Op) {
			return nil, fmt.Errorf("job %s: unsupported systemd op %q", name, job.Op)
		}
		unit, op := job.Unit, job.Op
		return func() future.Awaitable {
			return future.Go(func(ctx context.Context) ([]any, error) {
				ctx, cancel := withTimeout(ctx, timeout)
				defer cancel()
				start := time.Now()
				out, err := b.systemd().Run(ctx, op, unit)
				if err != nil {
					return nil, b.execError(name, out, err)
				}
				return []any{Result{Job: name, Output: b.clip(out), Elapsed: time.Since(start)}}, nil
			})
		}, nil

	default:
		return nil, fmt.Errorf("%w %q (job %s)", ErrUnknownKind, job.Kind, name)
	}
}

func (b Builder) systemd() systemd.Controller {
	if b.Systemd == nil {
		return systemd.Runner{}
	}
	return b.Systemd
}

func sleep(name string, d time.Duration) *future.Task {
	return future.Go(func(ctx context.Context) ([]any, error) {
		start := time.Now()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return []any{Result{Job: name, Elapsed: time.Since(start)}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func (b Builder) run(name string, timeout time.Duration, mk func(ctx context.Context) *exec.Cmd) *future.Task {
	return future.Go(func(ctx context.Context) ([]any, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		cmd := mk(ctx)
		cmd.WaitDelay = waitDelay
		out, err := cmd.CombinedOutput()
		output := strings.TrimSpace(string(out))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("job %s: %w", name, ctx.Err())
			}
			return nil, b.execError(name, output, err)
		}
		return []any{Result{Job: name, Output: b.clip(output), Elapsed: time.Since(start)}}, nil
	})
}

func (b Builder) execError(name, output string, err error) error {
	code := -1
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	}
	return &ExecError{Job: name, ExitCode: code, Output: b.clip(output), Err: err}
}

// clip cuts s to at most MaxOutput bytes, on a rune boundary.
func (b Builder) clip(s string) string {
	limit := b.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "…"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
