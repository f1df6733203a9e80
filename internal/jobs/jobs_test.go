package jobs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"actionqueue/internal/config"
	"actionqueue/pkg/future"
	"actionqueue/pkg/systemd"
)

func settle(t *testing.T, aw future.Awaitable) ([]any, error) {
	t.Helper()
	select {
	case <-aw.Done():
		return aw.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle")
		return nil, nil
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSleepJob(t *testing.T) {
	t.Parallel()
	act, err := Builder{}.Build(config.JobConfig{Name: "nap", Kind: config.KindSleep, Duration: "10ms"})
	if err != nil {
		t.Fatal(err)
	}
	values, err := settle(t, act())
	if err != nil {
		t.Fatalf("sleep err = %v", err)
	}
	res := values[0].(Result)
	if res.Job != "nap" || res.Elapsed < 10*time.Millisecond {
		t.Fatalf("result = %+v", res)
	}
}

func TestSleepJobCancel(t *testing.T) {
	t.Parallel()
	act, err := Builder{}.Build(config.JobConfig{Name: "nap", Kind: config.KindSleep, Duration: "1h"})
	if err != nil {
		t.Fatal(err)
	}
	aw := act()
	c, ok := aw.(future.Canceller)
	if !ok {
		t.Fatal("sleep action is not cancellable")
	}
	_ = c.Cancel()
	if _, err := settle(t, aw); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExecJob(t *testing.T) {
	t.Parallel()
	requireSh(t)
	tests := []struct {
		name     string
		script   string
		wantOut  string
		wantCode int
	}{
		{name: "success", script: "echo hello", wantOut: "hello"},
		{name: "exit code", script: "echo oops; exit 3", wantOut: "oops", wantCode: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			act, err := Builder{}.Build(config.JobConfig{Name: tt.name, Kind: config.KindExec, Command: "sh", Args: []string{"-c", tt.script}})
			if err != nil {
				t.Fatal(err)
			}
			values, err := settle(t, act())
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				if got := values[0].(Result).Output; got != tt.wantOut {
					t.Fatalf("output = %q, want %q", got, tt.wantOut)
				}
				return
			}
			var ee *ExecError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v, want *ExecError", err)
			}
			if ee.ExitCode != tt.wantCode || ee.Output != tt.wantOut {
				t.Fatalf("ExecError = %+v", ee)
			}
		})
	}
}

func TestExecJobCancelKillsProcess(t *testing.T) {
	t.Parallel()
	requireSh(t)
	act, err := Builder{}.Build(config.JobConfig{Name: "long", Kind: config.KindExec, Command: "sh", Args: []string{"-c", "exec sleep 30"}})
	if err != nil {
		t.Fatal(err)
	}
	aw := act()
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	_ = aw.(future.Canceller).Cancel()
	if _, err := settle(t, aw); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("process was not killed promptly")
	}
}

func TestExecJobTimeout(t *testing.T) {
	t.Parallel()
	requireSh(t)
	act, err := Builder{}.Build(config.JobConfig{Name: "slow", Kind: config.KindExec, Command: "sh", Args: []string{"-c", "exec sleep 30"}, Timeout: "50ms"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := settle(t, act()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSystemdJob(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	b := Builder{Systemd: systemd.Runner{Bin: "echo"}}
	act, err := b.Build(config.JobConfig{Name: "bounce", Kind: config.KindSystemd, Unit: "web.service", Op: systemd.OpRestart})
	if err != nil {
		t.Fatal(err)
	}
	values, err := settle(t, act())
	if err != nil {
		t.Fatal(err)
	}
	if got := values[0].(Result).Output; got != "restart web.service" {
		t.Fatalf("output = %q", got)
	}
}

func TestBuildRejectsBadJobs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		job  config.JobConfig
		want string
	}{
		{name: "kind", job: config.JobConfig{Name: "x", Kind: "teleport"}, want: "unknown kind"},
		{name: "duration", job: config.JobConfig{Name: "x", Kind: config.KindSleep, Duration: "later"}, want: "invalid duration"},
		{name: "command", job: config.JobConfig{Name: "x", Kind: config.KindExec}, want: "command is required"},
		{name: "op", job: config.JobConfig{Name: "x", Kind: config.KindSystemd, Unit: "u", Op: "reload"}, want: "unsupported systemd op"},
	}
	for _, tt := range tests {
		if _, err := (Builder{}).Build(tt.job); err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Build() = %v, want error containing %q", tt.name, err, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	b := Builder{MaxOutput: 3}
	if got := b.clip("abcdef"); got != "abc…" {
		t.Fatalf("clip = %q", got)
	}
	if got := b.clip("ab"); got != "ab" {
		t.Fatalf("clip = %q", got)
	}
	// "é" is two bytes; a cut at byte 2 would split it.
	if got := (Builder{MaxOutput: 2}).clip("aéé"); got != "a…" || !utf8.ValidString(got) {
		t.Fatalf("clip = %q, want a…", got)
	}
	if got := b.clip("aéé"); got != "aé…" {
		t.Fatalf("clip = %q, want aé…", got)
	}
	if got := (Builder{MaxOutput: 1}).clip("日本"); got != "…" {
		t.Fatalf("clip = %q, want …", got)
	}
}
