package actionqueue

import (
	"actionqueue/pkg/future"
)

// Entry is a point-in-time view of one running or pending action.
type Entry struct {
	ID     string
	Extra  []any
	Future *future.Future // nil when futures are disabled

	q   *Queue
	env *envelope
}

// Cancel cancels this action only. A running action is asked to stop and its
// slot is freed; a pending one is removed from the queue and never runs.
// It reports false if the action had already settled or been cancelled.
func (e Entry) Cancel() bool {
	if e.q == nil || e.env == nil {
		return false
	}
	return e.q.cancelOne(e.env)
}

// Info lists running actions (in slot order) and pending actions (in queue order).
type Info struct {
	Running []Entry
	Pending []Entry
}

// Info returns a snapshot of the queue's contents.
func (q *Queue) Info() Info {
	q.mu.Lock()
	running := q.pool.bound()
	pending := q.pending.snapshot()
	q.mu.Unlock()

	return Info{Running: q.entries(running), Pending: q.entries(pending)}
}

func (q *Queue) entries(envs []*envelope) []Entry {
	out := make([]Entry, 0, len(envs))
	for _, env := range envs {
		out = append(out, Entry{
			ID:     env.id,
			Extra:  append([]any(nil), env.extra...),
			Future: env.future,
			q:      q,
			env:    env,
		})
	}
	return out
}
