package app

import (
	"context"

	"actionqueue/internal/config"
	logx "actionqueue/pkg/logx"
)

// reloadLoop applies committed configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply moves the running app from prev to next. Settings read only at
// startup are reported and left alone.
func (a *App) apply(prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if ch.RestartRequired {
		a.log.Warn("config change requires a restart to take effect", logx.Strings("changed", ch.Sections))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}

	switch {
	case next.Queue.Paused && !a.queue.Paused():
		a.queue.Pause()
		a.log.Info("queue paused via config")
	case !next.Queue.Paused && a.queue.Paused():
		a.queue.Resume()
		a.log.Info("queue resumed via config")
	}

	if ch.Has("scheduler") {
		a.triggers.Apply(mapTriggerConfig(next))
	}
	if len(ch.Jobs) > 0 {
		trs, err := mapTriggers(next, a.jobs)
		if err == nil {
			err = a.triggers.Sync(trs)
		}
		if err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		} else {
			a.log.Debug("jobs changed", logx.Strings("names", ch.Jobs))
		}
	}

	fields := append([]logx.Field{logx.Strings("changed", ch.Sections)}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}
