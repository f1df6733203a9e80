package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{in: "debug", want: LevelDebug},
		{in: " WARNING ", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "trace", want: LevelTrace},
		{in: "nonsense", want: LevelInfo},
		{in: "", want: LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Not parallel: NewService and NewConsole set zerolog package globals.
func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf).Level(zerolog.DebugLevel)).With(String("component", "queue"))
	log.Info("action settled", Int("running", 2), Err(errors.New("boom")), Err(nil))
	log.Trace("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["component"] != "queue" || got["running"] != float64(2) || got[zerolog.ErrorFieldName] != "boom" || got["message"] != "action settled" {
		t.Fatalf("unexpected entry: %v", got)
	}
	if _, ok := got["caller"]; !ok {
		t.Fatal("caller field missing")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero Logger.IsZero() = false")
	}
	log.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop().IsZero() = true")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	svc, log := NewService(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})

	log.Info("dropped by level")
	log.Warn("kept")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Warn("dropped after apply")
	if log.Enabled(LevelWarn) {
		t.Fatal("warn still enabled after Apply")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"kept"`) || strings.Contains(out, "dropped") {
		t.Fatalf("file contents = %q", out)
	}
}

func TestServiceKeepsFileOnApply(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "logs", "a.log")
	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	f := svc.file
	if f == nil {
		t.Fatal("file sink not opened")
	}
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: first}})
	if svc.file != f {
		t.Fatal("Apply with the same path reopened the file")
	}
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug not enabled after Apply")
	}

	second := filepath.Join(dir, "b.log")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	if svc.filePath != second {
		t.Fatalf("filePath = %q, want %q", svc.filePath, second)
	}
	log.Info("moved")
	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"moved"`) {
		t.Fatalf("second file = %q", data)
	}
}

func TestServiceJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	svc, log := NewService(Config{Level: "info", Console: true, Format: FormatJSON})
	defer svc.Close()
	log.With(String("comp", "queue")).Info("hello", Strings("sections", []string{"jobs", "queue"}))

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("console output is not json: %q", buf.String())
	}
	if got["comp"] != "queue" || got["message"] != "hello" {
		t.Fatalf("entry = %v", got)
	}
	caller, _ := got["caller"].(string)
	if !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", caller)
	}
}
