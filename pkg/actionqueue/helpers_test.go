package actionqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"actionqueue/pkg/future"
)

const waitTimeout = 3 * time.Second

func resolvesAfter(d time.Duration, values ...any) Action {
	return func() future.Awaitable { return future.After(d, values...) }
}

func await(t *testing.T, f *future.Future) ([]any, error) {
	t.Helper()
	if f == nil {
		t.Fatal("expected a future, got nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	values, err := f.Await(ctx)
	if err == context.DeadlineExceeded {
		t.Fatal("future did not settle in time")
	}
	return values, err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recorder collects values from concurrently running callbacks.
type recorder struct {
	mu   sync.Mutex
	vals []any
}

func (r *recorder) add(v any) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder) get() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.vals...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

// manual is an Awaitable settled by the test.
type manual struct {
	*future.Future
	resolve future.ResolveFunc
	reject  future.RejectFunc
}

func newManual() manual {
	f, resolve, reject := future.New()
	return manual{Future: f, resolve: resolve, reject: reject}
}

type cancelOnly struct {
	manual
	cancels *atomic.Int32
}

func (c cancelOnly) Cancel() error {
	c.cancels.Add(1)
	return nil
}

type cancelAndAbort struct {
	cancelOnly
	aborts *atomic.Int32
}

func (c cancelAndAbort) Abort() error {
	c.aborts.Add(1)
	return nil
}

type abortOnly struct {
	manual
	aborts *atomic.Int32
}

func (a abortOnly) Abort() error {
	a.aborts.Add(1)
	return nil
}

type cancelPanics struct{ manual }

func (cancelPanics) Cancel() error { panic("cancel exploded") }
