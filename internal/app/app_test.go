package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"actionqueue/internal/config"
	"actionqueue/internal/eventbus"
	"actionqueue/internal/storage"
	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

const waitTimeout = 3 * time.Second

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// writeConfig writes a JSON config that logs and journals into dir.
func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func baseConfig(dir, queue, jobs string) string {
	return `{
  "queue": ` + queue + `,
  "logging": {"level": "debug", "file": {"enabled": true, "path": "` + filepath.Join(dir, "app.log") + `"}},
  "storage": {"driver": "file", "path": "` + filepath.Join(dir, "journal.jsonl") + `"},
  "jobs": ` + jobs + `
}`
}

func startApp(t *testing.T, path string) *App {
	t.Helper()
	a, err := New(path)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := a.Start(t.Context()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(ctx, StopUnknown)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		in        *config.StorageConfig
		enabled   bool
		retention time.Duration
		wantErr   bool
	}{
		{name: "nil", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Retention: "24h"}, enabled: true, retention: 24 * time.Hour},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "j.db"}, enabled: true},
		{name: "sqlite without path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad retention", in: &config.StorageConfig{Driver: "file", Retention: "soon"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, retention, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if enabled != tc.enabled || retention != tc.retention {
				t.Fatalf("enabled, retention = %v, %v, want %v, %v", enabled, retention, tc.enabled, tc.retention)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != time.Second) {
				t.Fatalf("config = %+v", sc)
			}
		})
	}
}

func TestJournalRecord(t *testing.T) {
	t.Parallel()
	now := time.Now()
	data := actionqueue.ActionEvent{
		ID:         "a1",
		Mode:       "append",
		Extra:      []any{"nightly", 7},
		Enqueued:   now.Add(-3 * time.Second),
		Started:    now.Add(-2 * time.Second),
		QueueDelay: time.Second,
		Duration:   2 * time.Second,
		Error:      "boom",
	}
	rec, ok := journalRecord(eventbus.Event{Type: actionqueue.EventFailed, Time: now, Data: data})
	if !ok {
		t.Fatal("failed event was not journaled")
	}
	if rec.Name != "nightly" || rec.Outcome != "failure" || rec.Extra != `["nightly",7]` || rec.Error != "boom" || rec.Took != 2*time.Second {
		t.Fatalf("record = %+v", rec)
	}

	if _, ok := journalRecord(eventbus.Event{Type: actionqueue.EventStarted, Data: data}); ok {
		t.Fatal("started event was journaled")
	}
	rec, _ = journalRecord(eventbus.Event{Type: actionqueue.EventCancelled, Data: actionqueue.ActionEvent{ID: "a2", Extra: []any{3}}})
	if rec.Name != "" || rec.Outcome != "cancel" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPruneInterval(t *testing.T) {
	t.Parallel()
	cases := map[time.Duration]time.Duration{
		0:                  0,
		time.Minute:        time.Minute,
		5 * time.Hour:      30 * time.Minute,
		30 * 24 * time.Hour: time.Hour,
	}
	for in, want := range cases {
		if got := pruneInterval(in); got != want {
			t.Fatalf("pruneInterval(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		jobs string
		want string
	}{
		{name: "valid", jobs: `[{"name":"tick","schedule":"every:1m","kind":"sleep","duration":"1s"}]`},
		{name: "unknown kind", jobs: `[{"name":"tick","schedule":"every:1m","kind":"teleport"}]`, want: "kind"},
		{name: "disabled job with bad schedule", jobs: `[{"name":"tick","schedule":"whenever","kind":"sleep","disabled":true}]`},
		{name: "bad schedule", jobs: `[{"name":"tick","schedule":"whenever","kind":"sleep","duration":"1s"}]`, want: "jobs.tick.schedule"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			err := CheckConfig(writeConfig(t, dir, baseConfig(dir, `{}`, tc.jobs)))
			if tc.want == "" {
				if err != nil {
					t.Fatalf("CheckConfig() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("CheckConfig() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(writeConfig(t, dir, `{"queue":{"workers":-1}}`)); err == nil {
		t.Fatal("New() accepted a negative worker count")
	}
}

func TestAppRunsJobsAndJournals(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, `{"workers": 2}`,
		`[{"name":"tick","schedule":"every:30ms","kind":"sleep","duration":"1ms","skip_if_queued":true,"extra":["x"]}]`))
	a := startApp(t, path)
	defer stopApp(t, a)

	var recs []storage.Record
	eventually(t, "a journaled run", func() bool {
		var err error
		recs, err = a.Store().Recent(context.Background(), 10)
		return err == nil && len(recs) > 0
	})
	r := recs[0]
	if r.Name != "tick" || r.Outcome != "success" || r.Extra != `["tick","x"]` || r.Mode != "append" {
		t.Fatalf("record = %+v", r)
	}
	if snap := a.Supervisor().Snapshot(); snap.FirstError != "" {
		t.Fatalf("supervisor error: %s", snap.FirstError)
	}
}

func TestAppReloadAppliesPauseAndJobs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, `{}`, `[]`))
	a := startApp(t, path)
	defer stopApp(t, a)
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, dir, baseConfig(dir, `{"paused": true}`,
		`[{"name":"later","schedule":"@daily","kind":"sleep","duration":"1s"}]`))
	eventually(t, "queue to pause", a.Queue().Paused)
	eventually(t, "job to register", func() bool {
		s := a.Triggers().Snapshot().Schedules
		return len(s) == 1 && s[0].Name == "later"
	})

	// An invalid job is rejected and the running set is kept.
	writeConfig(t, dir, baseConfig(dir, `{"paused": true}`,
		`[{"name":"later","schedule":"not a schedule","kind":"sleep","duration":"1s"}]`))
	time.Sleep(500 * time.Millisecond)
	if s := a.Triggers().Snapshot().Schedules; len(s) != 1 || s[0].Spec != "@daily" {
		t.Fatalf("schedules = %+v", s)
	}

	writeConfig(t, dir, baseConfig(dir, `{}`, `[]`))
	eventually(t, "queue to resume", func() bool { return !a.Queue().Paused() })
}

func TestStopCancelsQueuedActions(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, `{}`, `[]`))
	a := startApp(t, path)

	long := func() future.Awaitable { return future.After(time.Hour, "never") }
	running := a.Queue().Append(long, "manual")
	pending := a.Queue().Append(long, "manual")
	eventually(t, "action to start", func() bool { return a.Queue().Running() == 1 })

	stopApp(t, a)

	for _, f := range []*future.Future{running, pending} {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		_, err := f.Await(ctx)
		cancel()
		if !errors.Is(err, actionqueue.ErrCancelled) {
			t.Fatalf("Await() = %v, want ErrCancelled", err)
		}
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "journal.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	recs, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("journal = %+v, want 2 cancellations", recs)
	}
	for _, r := range recs {
		if r.Outcome != "cancel" || r.Name != "manual" {
			t.Fatalf("record = %+v", r)
		}
	}
}

func TestAppServesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(baseConfig(dir, `{}`, `[]`), `"jobs"`,
		`"diagnostics": {"enabled": true, "addr": "127.0.0.1:0"},
  "jobs"`, 1)
	a := startApp(t, writeConfig(t, dir, body))
	defer stopApp(t, a)

	eventually(t, "diagnostics to listen", func() bool { return a.Diagnostics().Addr() != "" })
	resp, err := http.Get("http://" + a.Diagnostics().Addr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
}
