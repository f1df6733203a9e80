package future

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPending is returned by Result while the future is not settled yet.
	ErrPending = errors.New("future: not settled")

	// ErrNilRejection replaces a nil error passed to reject.
	ErrNilRejection = errors.New("future: rejected without reason")
)

// Awaitable is the result of an action: something that eventually settles.
//
// Result must only be relied upon after Done is closed.
type Awaitable interface {
	Done() <-chan struct{}
	Result() ([]any, error)
}

// Canceller is an optional capability: stop the underlying work.
type Canceller interface {
	Cancel() error
}

// Aborter is the fallback capability probed when Canceller is absent.
type Aborter interface {
	Abort() error
}

// ResolveFunc settles a future with values. It reports whether this call
// performed the settlement.
type ResolveFunc func(values ...any) bool

// RejectFunc settles a future with an error. It reports whether this call
// performed the settlement.
type RejectFunc func(err error) bool

// Future is a settle-once container. The zero value is not usable; use New.
type Future struct {
	once sync.Once
	done chan struct{}

	values []any
	err    error
}

// New returns an unsettled future together with its connectors.
func New() (*Future, ResolveFunc, RejectFunc) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve, f.reject
}

// Resolved returns a future already resolved with values.
func Resolved(values ...any) *Future {
	f, resolve, _ := New()
	resolve(values...)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected(err error) *Future {
	f, _, reject := New()
	reject(err)
	return f
}

func (f *Future) resolve(values ...any) bool {
	settled := false
	f.once.Do(func() {
		f.values = append([]any(nil), values...)
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future) reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled values or error without blocking.
// It returns ErrPending while the future is unsettled.
func (f *Future) Result() ([]any, error) {
	select {
	case <-f.done:
		return f.values, f.err
	default:
		return nil, ErrPending
	}
}

// Await blocks until the future settles or ctx is done.
func (f *Future) Await(ctx context.Context) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.values, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
