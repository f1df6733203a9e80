// Package actionqueue runs independently submitted asynchronous actions with
// a fixed upper bound on how many are in flight at once.
//
// An action is a function returning a future.Awaitable. Actions wait in an
// ordered pending store: Append adds at the tail (FIFO), Prepend at the head
// (it jumps ahead of pending work but never preempts running work) and
// Replace cancels everything before appending. Up to Config.Workers actions
// run concurrently; with the default of one worker the queue strictly
// serializes its actions.
//
// Every action settles exactly once: it succeeds, fails or is cancelled.
// Settlements are reported through the action's own future (unless futures
// are disabled), through the rolling future returned by Promise, and through
// the OnSuccess/OnFailure/OnCancel/OnAlways subscriber lists. Subscribers run
// in registration order; a panicking subscriber is recovered and reported and
// never affects the others or the queue.
//
// Cancellation is cooperative. If a running action's Awaitable implements
// future.Canceller (or, failing that, future.Aborter) it is asked to stop,
// but the queue frees the worker slot immediately either way. A settlement
// that arrives after its action was cancelled is discarded.
//
// All queue state is guarded by a single mutex. Action functions, future
// connectors and subscribers are always called without the lock held, so
// they may call back into the queue.
package actionqueue
