package metrics

import (
	"context"
	"testing"
	"time"

	"actionqueue/internal/eventbus"
	"actionqueue/internal/trigger"
	"actionqueue/pkg/actionqueue"
)

type fixedStats struct{ snap actionqueue.Snapshot }

func (f fixedStats) Snapshot() actionqueue.Snapshot { return f.snap }

func find(points []Point, name string, attrs map[string]string) *Point {
	for i := range points {
		if points[i].Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if points[i].Attrs[k] != v {
				match = false
				break
			}
		}
		if match {
			return &points[i]
		}
	}
	return nil
}

func TestRecorderObserve(t *testing.T) {
	t.Parallel()
	p := NewProvider()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	r, err := New(p.Meter(), fixedStats{snap: actionqueue.Snapshot{Pending: 4, Running: 2}})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	now := time.Now()
	ran := actionqueue.ActionEvent{ID: "a", Mode: "append", Extra: []any{"nightly"}, Started: now, Duration: 2 * time.Second}
	r.Observe(ctx, eventbus.Event{Type: actionqueue.EventSucceeded, Data: ran})
	r.Observe(ctx, eventbus.Event{Type: actionqueue.EventSucceeded, Data: ran})
	r.Observe(ctx, eventbus.Event{Type: actionqueue.EventCancelled, Data: actionqueue.ActionEvent{ID: "b", Mode: "replace"}})
	r.Observe(ctx, eventbus.Event{Type: actionqueue.EventStarted, Data: ran})
	r.Observe(ctx, eventbus.Event{Type: trigger.EventFired, Data: trigger.FiredEvent{Name: "nightly", Skipped: true}})

	points, err := p.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() = %v", err)
	}

	cases := []struct {
		name  string
		attrs map[string]string
		value float64
		count uint64
	}{
		{name: "actionqueue.action.settled", attrs: map[string]string{"outcome": "success", "name": "nightly"}, value: 2},
		{name: "actionqueue.action.settled", attrs: map[string]string{"outcome": "cancel", "mode": "replace"}, value: 1},
		{name: "actionqueue.action.duration", attrs: map[string]string{"outcome": "success"}, value: 4, count: 2},
		{name: "actionqueue.trigger.fired", attrs: map[string]string{"trigger": "nightly", "skipped": "true"}, value: 1},
		{name: "actionqueue.queue.pending", value: 4},
		{name: "actionqueue.queue.running", value: 2},
	}
	for _, tc := range cases {
		pt := find(points, tc.name, tc.attrs)
		if pt == nil {
			t.Fatalf("%s%v not found in %+v", tc.name, tc.attrs, points)
		}
		if pt.Value != tc.value || pt.Count != tc.count {
			t.Fatalf("%s%v = %v (count %d), want %v (count %d)", tc.name, tc.attrs, pt.Value, pt.Count, tc.value, tc.count)
		}
	}
	// Cancelled before start: no duration sample.
	if pt := find(points, "actionqueue.action.duration", map[string]string{"outcome": "cancel"}); pt != nil {
		t.Fatalf("unexpected duration for unstarted action: %+v", pt)
	}
}

func TestRecorderRun(t *testing.T) {
	t.Parallel()
	p := NewProvider()
	r, err := New(p.Meter(), nil)
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, events)
		close(done)
	}()
	bus.Publish(eventbus.Event{Type: actionqueue.EventFailed, Data: actionqueue.ActionEvent{ID: "x"}})

	deadline := time.Now().Add(3 * time.Second)
	for {
		points, err := p.Collect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if pt := find(points, "actionqueue.action.settled", map[string]string{"outcome": "failure"}); pt != nil && pt.Value == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failure was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
