package actionqueue

import (
	"fmt"
	"time"

	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

type runningCancel struct {
	env *envelope
	aw  future.Awaitable // nil while the action function is still being called
}

// Clear cancels every pending and running action.
//
// Pending actions never run. Running actions are asked to stop through their
// Cancel/Abort capability and all worker slots are freed immediately, without
// waiting for the actions to actually finish.
func (q *Queue) Clear() {
	q.clear(nil)
	q.run()
}

// clear empties the queue and, when next is non-nil, queues it in the same
// critical section so no other submission can slip in between.
func (q *Queue) clear(next *envelope) {
	q.mu.Lock()
	pending := q.pending.drain()
	var running []runningCancel
	for _, env := range q.pool.reset() {
		env.cancelled = true
		running = append(running, runningCancel{env: env, aw: env.inFlight})
	}
	cancelled := pending[:0]
	for _, env := range pending {
		if env.done() {
			continue
		}
		env.cancelled = true
		cancelled = append(cancelled, env)
	}
	if next != nil {
		q.pending.pushBack(next)
		q.stats.admitted++
	}
	q.mu.Unlock()

	if len(running) > 0 || len(cancelled) > 0 {
		q.log.Debug("queue cleared", logx.Int("running", len(running)), logx.Int("pending", len(cancelled)))
	}
	for _, rc := range running {
		if rc.aw != nil {
			q.cancelSource(rc.env, rc.aw)
		}
		q.finishCancelled(rc.env)
	}
	for _, env := range cancelled {
		q.finishCancelled(env)
	}
}

// cancelOne cancels a single envelope, leaving every other one untouched.
func (q *Queue) cancelOne(env *envelope) bool {
	q.mu.Lock()
	if env.done() {
		q.mu.Unlock()
		return false
	}
	env.cancelled = true
	wasRunning := q.pool.release(env)
	if !wasRunning {
		q.pending.remove(env)
	}
	aw := env.inFlight
	q.mu.Unlock()

	if wasRunning && aw != nil {
		q.cancelSource(env, aw)
	}
	q.finishCancelled(env)
	if wasRunning {
		q.run()
	}
	return true
}

// cancelSource asks the in-flight work to stop: Cancel is preferred, Abort is
// the fallback. Failures are reported; the queue's own cancellation stands.
func (q *Queue) cancelSource(env *envelope, aw future.Awaitable) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		switch c := aw.(type) {
		case future.Canceller:
			err = c.Cancel()
		case future.Aborter:
			err = c.Abort()
		default:
			err = ErrNotCancellable
		}
	}()
	if err != nil {
		q.warn("action cancel failed", env, logx.Err(err))
	}
}

// finishCancelled settles a cancelled envelope's future (when configured to)
// and fires the cancel and always subscribers with its correlation values.
func (q *Queue) finishCancelled(env *envelope) {
	now := time.Now()
	ev := Event{ID: env.id, Kind: KindCancel, Extra: env.extra, Err: ErrCancelled}

	q.mu.Lock()
	q.stats.cancelled++
	subs := q.callbacks.forKind(KindCancel)
	q.recordLocked(env, KindCancel, now, ErrCancelled)
	q.mu.Unlock()

	if q.rejectCancel {
		q.guard("future connector", env, func() { env.reject(ErrCancelled) })
	}
	q.fire(subs, env, ev)

	q.log.Debug("action cancelled", logx.String("id", env.id), logx.Bool("started", !env.startedAt.IsZero()))
	q.publishSettled(env, ev, now)
}
