package actionqueue

import (
	"runtime/debug"

	logx "actionqueue/pkg/logx"
)

// guard runs fn, recovering and reporting a panic. what names the kind of
// user code being called (subscriber, connector, ...).
func (q *Queue) guard(what string, env *envelope, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.report(what+" panicked", env, logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

func (q *Queue) report(msg string, env *envelope, fields ...logx.Field) {
	q.emit(logx.LevelError, msg, env, fields)
}

func (q *Queue) warn(msg string, env *envelope, fields ...logx.Field) {
	q.emit(logx.LevelWarn, msg, env, fields)
}

// emit logs a report unless the rate limiter says we are flooding. The
// start and the end of a flood are always logged, with the number of reports
// dropped in between.
func (q *Queue) emit(level logx.Level, msg string, env *envelope, fields []logx.Field) {
	allowed := q.limiter.Allow()
	var floodStarted bool
	var floodDropped uint64
	q.mu.Lock()
	q.stats.reports++
	if !allowed {
		q.stats.suppressed++
		floodStarted = q.flood == 0
		q.flood++
	} else if q.flood > 0 {
		floodDropped = q.flood
		q.flood = 0
	}
	q.mu.Unlock()

	if floodStarted {
		q.log.Warn("error reports rate limited; dropping until the flood subsides", logx.String("last", msg))
	}
	if !allowed {
		return
	}
	if floodDropped > 0 {
		q.log.Warn("error reports resumed", logx.Int64("dropped", int64(floodDropped)))
	}
	if env != nil {
		fields = append([]logx.Field{logx.String("id", env.id)}, fields...)
	}
	q.log.Log(level, msg, fields...)
}
