package trigger

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Submission modes.
const (
	ModeAppend  = "append"
	ModePrepend = "prepend"
	ModeReplace = "replace"
)

// Trigger binds a schedule to an action.
//
// Each firing submits Action with Mode and passes Name followed by Extra as
// correlation values, so subscribers can tell which trigger an action came from.
type Trigger struct {
	Name     string
	Schedule string
	Mode     string // append (default), prepend or replace
	Action   actionqueue.Action
	Extra    []any

	// SkipIfQueued drops a firing while an earlier action of the same trigger
	// is still pending or running.
	SkipIfQueued bool
}

// Submitter is the part of the queue the trigger service drives.
type Submitter interface {
	Append(fn actionqueue.Action, extra ...any) *future.Future
	Prepend(fn actionqueue.Action, extra ...any) *future.Future
	Replace(fn actionqueue.Action, extra ...any) *future.Future
	Info() actionqueue.Info
}

// EventFired is published on the bus for every firing (Data is FiredEvent).
const EventFired = "trigger.fired"

// FiredEvent describes one firing.
type FiredEvent struct {
	Name    string    `json:"name"`
	Mode    string    `json:"mode"`
	At      time.Time `json:"at"`
	Skipped bool      `json:"skipped,omitempty"`
	Manual  bool      `json:"manual,omitempty"`
}

type scheduleDef struct {
	Trigger
	spec          ParsedSpec
	entryID       cron.EntryID
	startupSpread time.Duration

	fired   atomic.Uint64
	skipped atomic.Uint64
}

// ScheduleInfo describes a registered trigger.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Mode    string
	Next    time.Time
	Prev    time.Time
	Fired   uint64
	Skipped uint64
}

// Snapshot is a diagnostic view of the service.
type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
