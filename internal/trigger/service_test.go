package trigger

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"actionqueue/internal/eventbus"
	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

type submission struct {
	mode  string
	extra []any
}

// fakeQueue records submissions without running anything.
type fakeQueue struct {
	mu   sync.Mutex
	subs []submission
	info actionqueue.Info
}

func (f *fakeQueue) record(mode string, extra []any) *future.Future {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, submission{mode: mode, extra: extra})
	return future.Resolved()
}

func (f *fakeQueue) Append(_ actionqueue.Action, extra ...any) *future.Future {
	return f.record(ModeAppend, extra)
}

func (f *fakeQueue) Prepend(_ actionqueue.Action, extra ...any) *future.Future {
	return f.record(ModePrepend, extra)
}

func (f *fakeQueue) Replace(_ actionqueue.Action, extra ...any) *future.Future {
	return f.record(ModeReplace, extra)
}

func (f *fakeQueue) Info() actionqueue.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func noop() future.Awaitable { return future.Resolved() }

func TestFireUsesModeAndExtra(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{}
	s := New(Config{}, q, logxNop(), nil)
	for _, tr := range []Trigger{
		{Name: "a", Schedule: "@hourly", Action: noop, Extra: []any{1, "x"}},
		{Name: "p", Schedule: "@hourly", Mode: ModePrepend, Action: noop},
		{Name: "r", Schedule: "@hourly", Mode: ModeReplace, Action: noop},
	} {
		if err := s.Add(tr); err != nil {
			t.Fatalf("Add(%s) = %v", tr.Name, err)
		}
	}
	for _, name := range []string{"a", "p", "r"} {
		if f, err := s.Fire(name); err != nil || f == nil {
			t.Fatalf("Fire(%s) = (%v, %v)", name, f, err)
		}
	}
	want := []submission{
		{mode: ModeAppend, extra: []any{"a", 1, "x"}},
		{mode: ModePrepend, extra: []any{"p"}},
		{mode: ModeReplace, extra: []any{"r"}},
	}
	if !reflect.DeepEqual(q.subs, want) {
		t.Fatalf("submissions = %+v, want %+v", q.subs, want)
	}
	if _, err := s.Fire("missing"); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("Fire(missing) err = %v", err)
	}
}

func TestSkipIfQueued(t *testing.T) {
	t.Parallel()
	q := actionqueue.New(actionqueue.DefaultConfig())
	q.Pause()
	q.Append(noop, "busy")

	s := New(Config{}, q, logxNop(), nil)
	if err := s.Add(Trigger{Name: "busy", Schedule: "1m", Action: noop, SkipIfQueued: true}); err != nil {
		t.Fatal(err)
	}
	if f, _ := s.Fire("busy"); f != nil {
		t.Fatal("firing was not skipped while queued")
	}
	q.Clear()
	if f, _ := s.Fire("busy"); f == nil {
		t.Fatal("firing skipped with nothing queued")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Fired != 1 || snap.Schedules[0].Skipped != 1 {
		t.Fatalf("snapshot = %+v", snap.Schedules)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeQueue{}, logxNop(), nil)
	tests := []Trigger{
		{Schedule: "@hourly", Action: noop},
		{Name: "x", Schedule: "@hourly"},
		{Name: "x", Schedule: "never", Action: noop},
		{Name: "x", Schedule: "@hourly", Mode: "sideways", Action: noop},
	}
	for _, tr := range tests {
		if err := s.Add(tr); err == nil {
			t.Fatalf("Add(%+v) accepted", tr)
		}
	}
}

func TestSyncReplacesSet(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeQueue{}, logxNop(), nil)
	_ = s.Add(Trigger{Name: "old", Schedule: "@hourly", Action: noop})
	_ = s.Add(Trigger{Name: "keep", Schedule: "@hourly", Action: noop})

	err := s.Sync([]Trigger{
		{Name: "keep", Schedule: "@daily", Action: noop},
		{Name: "new", Schedule: "5m", Action: noop},
	})
	if err != nil {
		t.Fatal(err)
	}
	var names, specs []string
	for _, it := range s.Snapshot().Schedules {
		names = append(names, it.Name)
		specs = append(specs, it.Spec)
	}
	if !reflect.DeepEqual(names, []string{"keep", "new"}) || !reflect.DeepEqual(specs, []string{"@daily", "@every 5m0s"}) {
		t.Fatalf("schedules = %v %v", names, specs)
	}

	if err := s.Sync([]Trigger{{Name: "bad", Schedule: "nope", Action: noop}}); err == nil {
		t.Fatal("Sync accepted an invalid trigger")
	}
	if got := len(s.Snapshot().Schedules); got != 2 {
		t.Fatalf("failed Sync changed the set: %d schedules", got)
	}
}

func TestScheduledFiringReachesQueue(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	fired, unsub := bus.Subscribe(16, EventFired)
	defer unsub()

	q := actionqueue.New(actionqueue.DefaultConfig())
	got := make(chan []any, 8)
	q.OnSuccess(func(ev actionqueue.Event) {
		select {
		case got <- ev.Args():
		default:
		}
	})

	s := New(Config{Enabled: true}, q, logxNop(), bus)
	if err := s.Add(Trigger{Name: "tick", Schedule: "every:50ms", Action: func() future.Awaitable { return future.Resolved("ok") }, Extra: []any{7}}); err != nil {
		t.Fatal(err)
	}
	s.Start(t.Context())
	defer s.Stop(t.Context())

	select {
	case args := <-got:
		if !reflect.DeepEqual(args, []any{"ok", "tick", 7}) {
			t.Fatalf("args = %v", args)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled trigger never reached the queue")
	}
	select {
	case ev := <-fired:
		if ev.Data.(FiredEvent).Name != "tick" {
			t.Fatalf("fired event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no fired event published")
	}
	if !s.Snapshot().Running {
		t.Fatal("service not running after Start")
	}
}

func TestApplyTogglesRunner(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeQueue{}, logxNop(), nil)
	_ = s.Add(Trigger{Name: "a", Schedule: "@hourly", Action: noop})
	s.Start(t.Context())
	if s.Snapshot().Running {
		t.Fatal("disabled service started")
	}
	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	snap := s.Snapshot()
	if !snap.Running || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot after enable = %+v", snap)
	}
	s.Apply(Config{Enabled: true, Timezone: "Asia/Jakarta"})
	if got := s.Snapshot().Timezone; got != "Asia/Jakarta" {
		t.Fatalf("timezone = %q", got)
	}
	s.Apply(Config{Enabled: false})
	if s.Snapshot().Running {
		t.Fatal("service still running after disable")
	}
}

func logxNop() logx.Logger { return logx.Nop() }

func TestStartStopsWhenContextDone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeQueue{}, logxNop(), nil)
	_ = s.Add(Trigger{Name: "a", Schedule: "@hourly", Action: noop})

	ctx, cancel := context.WithCancel(t.Context())
	s.Start(ctx)
	if !s.Snapshot().Running {
		t.Fatal("service not running after Start")
	}
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().Running {
		if time.Now().After(deadline) {
			t.Fatal("runner still running after ctx was cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	if s.Snapshot().Running {
		t.Fatal("Apply restarted the runner after ctx was done")
	}

	s.Start(t.Context())
	if !s.Snapshot().Running {
		t.Fatal("a new Start did not resume firing")
	}
	s.Stop(t.Context())
}
