package actionqueue

import (
	"time"

	"github.com/google/uuid"

	"actionqueue/pkg/future"
)

// Action produces the asynchronous work the queue runs. It is called at most
// once, when the action is admitted to a worker slot.
type Action func() future.Awaitable

// envelope is the queue's record for one submitted action.
//
// id, fn, extra, future and the connectors never change after creation.
// The remaining fields are guarded by Queue.mu.
type envelope struct {
	id      string
	fn      Action
	extra   []any
	future  *future.Future
	resolve future.ResolveFunc
	reject  future.RejectFunc
	mode    string

	enqueuedAt time.Time
	startedAt  time.Time

	slot      int // -1 when not bound to a worker slot
	inFlight  future.Awaitable
	cancelled bool
	settled   bool
}

func newEnvelope(fn Action, extra []any, mode string, withFuture bool) *envelope {
	env := &envelope{
		id:         "act-" + uuid.NewString(),
		fn:         fn,
		extra:      append([]any(nil), extra...),
		mode:       mode,
		enqueuedAt: time.Now(),
		slot:       -1,
		resolve:    func(...any) bool { return false },
		reject:     func(error) bool { return false },
	}
	if withFuture {
		env.future, env.resolve, env.reject = future.New()
	}
	return env
}

// done reports whether the envelope reached a final state.
func (e *envelope) done() bool { return e.cancelled || e.settled }

// pendingStore is the ordered sequence of envelopes waiting for a slot.
// Index 0 is the next one admitted.
type pendingStore struct {
	items []*envelope
}

func (s *pendingStore) len() int { return len(s.items) }

func (s *pendingStore) pushBack(e *envelope) { s.items = append(s.items, e) }

func (s *pendingStore) pushFront(e *envelope) {
	s.items = append(s.items, nil)
	copy(s.items[1:], s.items)
	s.items[0] = e
}

func (s *pendingStore) popFront() *envelope {
	if len(s.items) == 0 {
		return nil
	}
	e := s.items[0]
	s.items[0] = nil
	s.items = s.items[1:]
	return e
}

// drain empties the store and returns its previous contents in order.
func (s *pendingStore) drain() []*envelope {
	out := s.items
	s.items = nil
	return out
}

// remove deletes e, keeping the order of the others.
func (s *pendingStore) remove(e *envelope) bool {
	for i, it := range s.items {
		if it == e {
			copy(s.items[i:], s.items[i+1:])
			s.items[len(s.items)-1] = nil
			s.items = s.items[:len(s.items)-1]
			return true
		}
	}
	return false
}

func (s *pendingStore) snapshot() []*envelope {
	return append([]*envelope(nil), s.items...)
}
