package actionqueue

import (
	"actionqueue/internal/eventbus"
	logx "actionqueue/pkg/logx"
)

const (
	defaultHistorySize = 200
)

// Config controls a Queue.
//
// CreateFutures and RejectCanceled are pointers so "omitted" can default to
// true; use Bool to set them.
type Config struct {
	// Workers is the size of the worker pool. Values below 1 become 1.
	Workers int

	// CreateFutures makes Append/Prepend/Replace return a future (default true).
	// When false they return nil.
	CreateFutures *bool

	// RejectCanceled rejects a cancelled action's future with ErrCancelled
	// (default true). When false the future of a cancelled action never settles.
	RejectCanceled *bool

	// HistorySize bounds the settlement history kept for Snapshot.
	HistorySize int
}

// DefaultConfig returns the configuration used by New(Config{}).
func DefaultConfig() Config {
	return Config{
		Workers:        1,
		CreateFutures:  Bool(true),
		RejectCanceled: Bool(true),
		HistorySize:    defaultHistorySize,
	}
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.CreateFutures == nil {
		c.CreateFutures = Bool(true)
	}
	if c.RejectCanceled == nil {
		c.RejectCanceled = Bool(true)
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// Spawner allows callers (e.g. an app supervisor) to own the goroutines the
// queue starts to watch in-flight actions. When nil, the queue falls back to
// plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }

type goSpawner struct{}

func (goSpawner) Go(_ string, fn func()) { go fn() }

// Option configures the collaborators of a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for debug traces and error reports.
func WithLogger(log logx.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithBus publishes lifecycle events (see the Event* type constants) on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithSpawner sets the goroutine spawner.
func WithSpawner(sp Spawner) Option {
	return func(q *Queue) {
		if sp != nil {
			q.spawn = sp
		}
	}
}
