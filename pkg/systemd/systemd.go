package systemd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrUnsupported = errors.New("systemd: d-bus backend is not supported on this platform")

// Controller performs unit operations. Run returns whatever output the
// backend produced, even on error.
type Controller interface {
	Run(ctx context.Context, op, unit string) (string, error)
}

// Operations accepted by Runner.Run.
const (
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
)

// ValidOp reports whether op is a unit operation Run accepts.
func ValidOp(op string) bool {
	switch op {
	case OpStart, OpStop, OpRestart:
		return true
	}
	return false
}

// jobResult turns a systemd job result ("done", "failed", ...) into an error.
func jobResult(op, unit, result string) error {
	if result == "done" {
		return nil
	}
	return fmt.Errorf("systemd %s %s: job %s", op, unit, result)
}

// Runner invokes systemctl. The zero value uses "systemctl" from PATH.
type Runner struct {
	Bin string
}

func (r Runner) bin() string {
	if strings.TrimSpace(r.Bin) == "" {
		return "systemctl"
	}
	return r.Bin
}

// Run executes `systemctl <op> <unit>` and returns its trimmed combined output.
func (r Runner) Run(ctx context.Context, op, unit string) (string, error) {
	if !ValidOp(op) {
		return "", fmt.Errorf("systemd: unsupported operation %q", op)
	}
	out, err := exec.CommandContext(ctx, r.bin(), op, unit).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		return s, fmt.Errorf("systemctl %s %s: %w", op, unit, err)
	}
	return s, nil
}

// IsActive reports whether unit is active.
func (r Runner) IsActive(ctx context.Context, unit string) (bool, error) {
	// is-active exits non-zero when inactive; the output still says which state.
	out, _ := exec.CommandContext(ctx, r.bin(), "is-active", unit).CombinedOutput()
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return strings.TrimSpace(string(out)) == "active", nil
}
