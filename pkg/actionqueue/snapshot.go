package actionqueue

import (
	"fmt"
	"time"
)

type counters struct {
	admitted   uint64
	succeeded  uint64
	failed     uint64
	cancelled  uint64
	discarded  uint64
	reports    uint64
	suppressed uint64
}

// HistoryItem records one settled action.
type HistoryItem struct {
	ID         string
	Mode       string
	Outcome    string
	Extra      string
	Enqueued   time.Time
	Started    time.Time // zero for actions cancelled before they ran
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers int
	Running int
	Pending int
	Paused  bool

	Admitted  uint64
	Succeeded uint64
	Failed    uint64
	Cancelled uint64

	// Discarded counts settlements that arrived after their action was cancelled.
	Discarded uint64

	// Reports counts recovered panics and cancel failures; Suppressed is the
	// subset that was rate limited out of the log.
	Reports    uint64
	Suppressed uint64

	History []HistoryItem
}

func (q *Queue) recordLocked(env *envelope, kind EventKind, finished time.Time, err error) {
	item := HistoryItem{
		ID:       env.id,
		Mode:     env.mode,
		Outcome:  kind.String(),
		Enqueued: env.enqueuedAt,
		Started:  env.startedAt,
	}
	if len(env.extra) > 0 {
		item.Extra = fmt.Sprint(env.extra...)
	}
	if !env.startedAt.IsZero() {
		item.QueueDelay = env.startedAt.Sub(env.enqueuedAt)
		item.Duration = finished.Sub(env.startedAt)
	}
	if err != nil {
		item.Error = err.Error()
	}
	q.history = append(q.history, item)
	if len(q.history) > q.cfg.HistorySize {
		q.history = q.history[len(q.history)-q.cfg.HistorySize:]
	}
}

// Snapshot returns counters and the recent settlement history.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Workers:    q.pool.size(),
		Running:    q.pool.busy(),
		Pending:    q.pending.len(),
		Paused:     q.paused,
		Admitted:   q.stats.admitted,
		Succeeded:  q.stats.succeeded,
		Failed:     q.stats.failed,
		Cancelled:  q.stats.cancelled,
		Discarded:  q.stats.discarded,
		Reports:    q.stats.reports,
		Suppressed: q.stats.suppressed,
		History:    append([]HistoryItem(nil), q.history...),
	}
}
