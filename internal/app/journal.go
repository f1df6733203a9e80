package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"actionqueue/internal/eventbus"
	"actionqueue/internal/storage"
	"actionqueue/pkg/actionqueue"
	logx "actionqueue/pkg/logx"
)

const (
	journalBuffer = 512
	// drainTimeout bounds appends made after shutdown has begun.
	drainTimeout = time.Second
)

// journalRecord converts a settlement event into a journal record.
// Events that are not settlements are ignored.
func journalRecord(e eventbus.Event) (storage.Record, bool) {
	var outcome actionqueue.EventKind
	switch e.Type {
	case actionqueue.EventSucceeded:
		outcome = actionqueue.KindSuccess
	case actionqueue.EventFailed:
		outcome = actionqueue.KindFailure
	case actionqueue.EventCancelled:
		outcome = actionqueue.KindCancel
	default:
		return storage.Record{}, false
	}
	data, ok := e.Data.(actionqueue.ActionEvent)
	if !ok {
		return storage.Record{}, false
	}

	rec := storage.Record{
		At:       e.Time,
		ID:       data.ID,
		Mode:     data.Mode,
		Outcome:  outcome.String(),
		Enqueued: data.Enqueued,
		Started:  data.Started,
		Delay:    data.QueueDelay,
		Took:     data.Duration,
		Error:    data.Error,
	}
	if len(data.Extra) > 0 {
		if name, ok := data.Extra[0].(string); ok {
			rec.Name = name
		}
		b, err := json.Marshal(data.Extra)
		if err != nil {
			b, _ = json.Marshal([]string{fmt.Sprint(data.Extra...)})
		}
		rec.Extra = string(b)
	}
	return rec, true
}

// recordLoop appends every settlement to the journal until ctx is done, then
// drains what is already buffered.
func (a *App) recordLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					a.record(dctx, e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			a.record(ctx, e)
		}
	}
}

func (a *App) record(ctx context.Context, e eventbus.Event) {
	rec, ok := journalRecord(e)
	if !ok {
		return
	}
	if err := a.store.Append(ctx, rec); err != nil {
		a.log.Warn("journal append failed", logx.String("id", rec.ID), logx.Err(err))
	}
}

func pruneInterval(retention time.Duration) time.Duration {
	if retention <= 0 {
		return 0
	}
	return min(max(retention/10, time.Minute), time.Hour)
}

// prune deletes journal records older than the retention window.
func (a *App) prune(ctx context.Context, now time.Time) (int, error) {
	if a.store == nil || a.retention <= 0 {
		return 0, nil
	}
	n, err := a.store.Prune(ctx, now.Add(-a.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info("journal pruned", logx.Int("removed", n), logx.Time("cutoff", now.Add(-a.retention)))
	}
	return n, nil
}

func (a *App) pruneLoop(ctx context.Context) error {
	if _, err := a.prune(ctx, time.Now()); err != nil {
		return err
	}
	t := time.NewTicker(a.pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if _, err := a.prune(ctx, now); err != nil {
				return err
			}
		}
	}
}
