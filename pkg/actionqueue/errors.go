package actionqueue

import (
	"errors"
)

var (
	// ErrCancelled is the rejection reason of a cancelled action's future.
	ErrCancelled = errors.New("action was cancelled")

	// ErrNilAction is the failure of an envelope submitted without a function.
	ErrNilAction = errors.New("action function is nil")

	// ErrNilAwaitable is the failure of an action that returned no Awaitable.
	ErrNilAwaitable = errors.New("action returned a nil awaitable")

	// ErrNotCancellable is reported when a running action exposes neither
	// Cancel nor Abort. Cancellation still proceeds.
	ErrNotCancellable = errors.New("action is not cancellable at the source")
)
