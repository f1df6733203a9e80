package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one settled action.
// Keep it compact and schema-stable.
type Record struct {
	At       time.Time     `json:"at"`
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	Outcome  string        `json:"outcome"`
	Enqueued time.Time     `json:"enqueued"`
	Started  time.Time     `json:"started,omitzero"`
	Delay    time.Duration `json:"delay_ns,omitempty"`
	Took     time.Duration `json:"took_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
	Extra    string        `json:"extra,omitempty"` // JSON array of correlation values
}

// Store is the journal API used by the app.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to limit records, oldest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Prune deletes records settled before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
