package systemd

import (
	"context"
	"strings"
	"testing"
)

func TestValidOp(t *testing.T) {
	t.Parallel()
	for op, want := range map[string]bool{"start": true, "stop": true, "restart": true, "reload": false, "": false} {
		if got := ValidOp(op); got != want {
			t.Fatalf("ValidOp(%q) = %v, want %v", op, got, want)
		}
	}
}

func TestJobResult(t *testing.T) {
	t.Parallel()
	if err := jobResult(OpStart, "web.service", "done"); err != nil {
		t.Fatalf("done = %v, want nil", err)
	}
	err := jobResult(OpStart, "web.service", "failed")
	if err == nil || !strings.Contains(err.Error(), "job failed") {
		t.Fatalf("failed = %v", err)
	}
}

func TestRunner(t *testing.T) {
	t.Parallel()
	r := Runner{Bin: "echo"}
	out, err := r.Run(context.Background(), OpStop, "db.service")
	if err != nil || out != "stop db.service" {
		t.Fatalf("Run() = %q, %v", out, err)
	}
	if _, err := r.Run(context.Background(), "mask", "db.service"); err == nil {
		t.Fatal("Run accepted an unsupported op")
	}
	if _, err := (Runner{Bin: "false"}).Run(context.Background(), OpStart, "db.service"); err == nil {
		t.Fatal("Run ignored a failing command")
	}
	active, err := r.IsActive(context.Background(), "db.service")
	if err != nil || active {
		t.Fatalf("IsActive() = %v, %v", active, err)
	}
}

var _ Controller = Runner{}
var _ Controller = (*DBus)(nil)
