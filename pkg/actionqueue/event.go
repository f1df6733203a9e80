package actionqueue

import (
	"time"
)

// EventKind is the outcome carried by an Event.
type EventKind int

const (
	KindSuccess EventKind = iota
	KindFailure
	KindCancel
)

func (k EventKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event describes one settlement, as passed to subscribers.
//
// Result is the action's normalized result (a single nil value becomes an
// empty result). Extra holds the correlation values given at submission.
type Event struct {
	ID     string
	Kind   EventKind
	Result []any
	Extra  []any
	Err    error
}

// Args returns the callback argument list: the result followed by the
// correlation values. A failure contributes its error as the only result
// value; a cancellation contributes no result values.
func (ev Event) Args() []any {
	var head []any
	switch ev.Kind {
	case KindSuccess:
		head = ev.Result
	case KindFailure:
		head = []any{ev.Err}
	}
	out := make([]any, 0, len(head)+len(ev.Extra))
	out = append(out, head...)
	return append(out, ev.Extra...)
}

// normalizeResult treats a lone nil value as "no result".
func normalizeResult(values []any) []any {
	if len(values) == 1 && values[0] == nil {
		return nil
	}
	return values
}

// Callback receives settlement events.
type Callback func(ev Event)

// callbackBus holds the four ordered subscriber lists. Lists only grow.
// Guarded by Queue.mu; iterate over a snapshot.
type callbackBus struct {
	success []Callback
	failure []Callback
	cancel  []Callback
	always  []Callback
}

// forKind returns, in call order, the subscribers for an event of kind k:
// the specific list followed by the always list.
func (b *callbackBus) forKind(k EventKind) []Callback {
	var specific []Callback
	switch k {
	case KindSuccess:
		specific = b.success
	case KindFailure:
		specific = b.failure
	case KindCancel:
		specific = b.cancel
	}
	out := make([]Callback, 0, len(specific)+len(b.always))
	out = append(out, specific...)
	return append(out, b.always...)
}

// Event types published on the event bus.
const (
	EventAdmitted  = "action.admitted"
	EventStarted   = "action.started"
	EventSucceeded = "action.succeeded"
	EventFailed    = "action.failed"
	EventCancelled = "action.cancelled"
)

// ActionEvent is the Data of events published on the event bus.
type ActionEvent struct {
	ID         string        `json:"id"`
	Mode       string        `json:"mode,omitempty"`
	Extra      []any         `json:"extra,omitempty"`
	Enqueued   time.Time     `json:"enqueued"`
	Started    time.Time     `json:"started,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

func busType(k EventKind) string {
	switch k {
	case KindSuccess:
		return EventSucceeded
	case KindFailure:
		return EventFailed
	default:
		return EventCancelled
	}
}
