package future

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Task is a Future backed by a goroutine that observes a cancellable context.
// It implements Canceller.
type Task struct {
	*Future
	cancel context.CancelFunc
}

// Go runs fn on a new goroutine and returns a Task settled with its outcome.
// Cancel cancels the context passed to fn; the task still settles only when
// fn returns.
func Go(fn func(ctx context.Context) ([]any, error)) *Task {
	return GoContext(context.Background(), fn)
}

// GoContext is Go with a parent context.
func GoContext(parent context.Context, fn func(ctx context.Context) ([]any, error)) *Task {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	f, resolve, reject := New()
	t := &Task{Future: f, cancel: cancel}
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				reject(&PanicError{Value: r, Stack: string(debug.Stack())})
			}
		}()
		values, err := fn(ctx)
		if err != nil {
			reject(err)
			return
		}
		resolve(values...)
	}()
	return t
}

// After returns a task that resolves with values once d elapses, or rejects
// with the context error if cancelled first.
func After(d time.Duration, values ...any) *Task {
	return Go(func(ctx context.Context) ([]any, error) {
		tmr := time.NewTimer(d)
		defer tmr.Stop()
		select {
		case <-tmr.C:
			return values, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Cancel cancels the task context. It never fails.
func (t *Task) Cancel() error {
	t.cancel()
	return nil
}

// PanicError wraps a value recovered from a panicking goroutine.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
