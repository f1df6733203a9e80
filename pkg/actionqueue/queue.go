package actionqueue

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"actionqueue/internal/eventbus"
	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

// Queue admits and runs actions with bounded concurrency.
type Queue struct {
	cfg           Config
	createFutures bool
	rejectCancel  bool

	log     logx.Logger
	bus     eventbus.Bus
	spawn   Spawner
	limiter *rate.Limiter

	mu        sync.Mutex
	paused    bool
	pending   pendingStore
	pool      workerPool
	rolling   *rollingHandle
	callbacks callbackBus
	stats     counters
	history   []HistoryItem
	flood     uint64 // reports dropped since the limiter last allowed one
}

type rollingHandle struct {
	future  *future.Future
	resolve future.ResolveFunc
	reject  future.RejectFunc
}

// New returns an idle, unpaused queue.
func New(cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:           cfg,
		createFutures: *cfg.CreateFutures,
		rejectCancel:  *cfg.RejectCanceled,
		log:           logx.Nop(),
		spawn:         goSpawner{},
		// At most one report per 100ms on average, bursts of 20.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
		pool:    newWorkerPool(cfg.Workers),
	}
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	if q.log.IsZero() {
		q.log = logx.Nop()
	}
	return q
}

// Workers returns the configured pool size.
func (q *Queue) Workers() int { return q.cfg.Workers }

// ---- Admission ----

// Append queues fn after every pending action. It returns the action's future,
// or nil when futures are disabled.
func (q *Queue) Append(fn Action, extra ...any) *future.Future {
	env := newEnvelope(fn, extra, "append", q.createFutures)
	q.mu.Lock()
	q.pending.pushBack(env)
	q.stats.admitted++
	q.mu.Unlock()
	q.admitted(env)
	q.run()
	return env.future
}

// Prepend queues fn ahead of every pending action. Running actions are not
// affected.
func (q *Queue) Prepend(fn Action, extra ...any) *future.Future {
	env := newEnvelope(fn, extra, "prepend", q.createFutures)
	q.mu.Lock()
	q.pending.pushFront(env)
	q.stats.admitted++
	q.mu.Unlock()
	q.admitted(env)
	q.run()
	return env.future
}

// Replace cancels every pending and running action and queues fn. Once it
// returns, fn's envelope is the only one in the queue (until other submissions).
func (q *Queue) Replace(fn Action, extra ...any) *future.Future {
	env := newEnvelope(fn, extra, "replace", q.createFutures)
	q.clear(env)
	q.admitted(env)
	q.run()
	return env.future
}

func (q *Queue) admitted(env *envelope) {
	q.log.Debug("action admitted", logx.String("id", env.id), logx.String("mode", env.mode), logx.Int("extra", len(env.extra)))
	q.publish(EventAdmitted, env.enqueuedAt, ActionEvent{ID: env.id, Mode: env.mode, Extra: env.extra, Enqueued: env.enqueuedAt})
}

// ---- Scheduler loop ----

// run admits pending envelopes while the queue is unpaused and slots are idle.
// It is safe to call at any time from any goroutine.
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if q.paused || q.pool.idle() == 0 || q.pending.len() == 0 {
			q.mu.Unlock()
			return
		}
		env := q.pending.popFront()
		if env.done() {
			// Cancelled while pending; it must never run.
			q.mu.Unlock()
			continue
		}
		q.pool.acquire(env)
		env.startedAt = time.Now()
		q.mu.Unlock()

		q.launch(env)
	}
}

// launch invokes the action (its slot is already reserved) and attaches the
// settlement pipeline.
func (q *Queue) launch(env *envelope) {
	aw := q.invoke(env)

	q.mu.Lock()
	env.inFlight = aw
	cancelled := env.cancelled
	q.mu.Unlock()

	if cancelled {
		// Cancelled while fn was running; the bookkeeping is already done.
		q.cancelSource(env, aw)
		return
	}

	q.log.Debug("action started", logx.String("id", env.id), logx.Duration("queue_delay", env.startedAt.Sub(env.enqueuedAt)))
	q.publish(EventStarted, env.startedAt, ActionEvent{
		ID: env.id, Mode: env.mode, Extra: env.extra, Enqueued: env.enqueuedAt, Started: env.startedAt,
		QueueDelay: env.startedAt.Sub(env.enqueuedAt),
	})

	q.spawn.Go("actionqueue.settle", func() {
		values, err := q.await(env, aw)
		q.settle(env, values, err)
	})
}

// await blocks until aw settles. A panicking Done or Result becomes a
// failure so the slot is always released.
func (q *Queue) await(env *envelope, aw future.Awaitable) (values []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			q.report("awaitable panicked", env, logx.Any("panic", r), logx.Stack(stack))
			values, err = nil, &future.PanicError{Value: r, Stack: stack}
		}
	}()
	<-aw.Done()
	return aw.Result()
}

// invoke calls env.fn exactly once. A nil function, a nil result or a panic
// become an already-rejected Awaitable.
func (q *Queue) invoke(env *envelope) (aw future.Awaitable) {
	if env.fn == nil {
		return future.Rejected(ErrNilAction)
	}
	defer func() {
		if r := recover(); r != nil {
			q.report("action panicked", env, logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			aw = future.Rejected(&future.PanicError{Value: r})
		}
	}()
	aw = env.fn()
	if isNil(aw) {
		return future.Rejected(ErrNilAwaitable)
	}
	return aw
}

// isNil also catches typed nils such as a nil *future.Future.
func isNil(aw future.Awaitable) bool {
	if aw == nil {
		return true
	}
	v := reflect.ValueOf(aw)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// ---- Settlement pipeline ----

func (q *Queue) settle(env *envelope, values []any, err error) {
	finished := time.Now()

	q.mu.Lock()
	if env.done() {
		q.stats.discarded++
		q.mu.Unlock()
		q.log.Debug("late settlement discarded", logx.String("id", env.id))
		return
	}
	env.settled = true
	q.pool.release(env)

	ev := Event{ID: env.id, Extra: env.extra}
	if err != nil {
		ev.Kind = KindFailure
		ev.Err = err
		q.stats.failed++
	} else {
		ev.Kind = KindSuccess
		ev.Result = normalizeResult(values)
		q.stats.succeeded++
	}
	rolling := q.rolling
	q.rolling = nil
	subs := q.callbacks.forKind(ev.Kind)
	q.recordLocked(env, ev.Kind, finished, err)
	q.mu.Unlock()

	q.guard("future connector", env, func() {
		if err != nil {
			env.reject(err)
		} else {
			env.resolve(values...)
		}
	})

	if rolling != nil {
		q.guard("rolling future", env, func() {
			if err != nil {
				rolling.reject(err)
			} else {
				rolling.resolve(ev.Args()...)
			}
		})
	}

	q.fire(subs, env, ev)

	fields := []logx.Field{logx.String("id", env.id), logx.Duration("dur", finished.Sub(env.startedAt))}
	if err != nil {
		q.log.Debug("action failed", append(fields, logx.Err(err))...)
	} else {
		q.log.Debug("action succeeded", fields...)
	}
	q.publishSettled(env, ev, finished)

	q.run()
}

// fire calls subs in order, isolating each from the others' panics.
func (q *Queue) fire(subs []Callback, env *envelope, ev Event) {
	for _, cb := range subs {
		if cb == nil {
			continue
		}
		q.guard("subscriber", env, func() { cb(ev) })
	}
}

func (q *Queue) publish(typ string, at time.Time, data ActionEvent) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

func (q *Queue) publishSettled(env *envelope, ev Event, finished time.Time) {
	if q.bus == nil {
		return
	}
	data := ActionEvent{ID: env.id, Mode: env.mode, Extra: env.extra, Enqueued: env.enqueuedAt, Started: env.startedAt}
	if !env.startedAt.IsZero() {
		data.QueueDelay = env.startedAt.Sub(env.enqueuedAt)
		data.Duration = finished.Sub(env.startedAt)
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	q.publish(busType(ev.Kind), finished, data)
}

// ---- Rolling future ----

// Promise returns a future settled by the next action that succeeds or fails.
// Cancellations never settle it. Repeated calls before that settlement return
// the same future; afterwards a fresh one is created on demand.
//
// It resolves with the event's Args (result followed by correlation values)
// or rejects with the action's error.
func (q *Queue) Promise() *future.Future {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rolling == nil {
		f, resolve, reject := future.New()
		q.rolling = &rollingHandle{future: f, resolve: resolve, reject: reject}
	}
	return q.rolling.future
}

// ---- Subscriptions ----

// OnSuccess registers cb for actions that succeed.
func (q *Queue) OnSuccess(cb Callback) { q.subscribe(&q.callbacks.success, cb) }

// OnFailure registers cb for actions that fail (not cancellations).
func (q *Queue) OnFailure(cb Callback) { q.subscribe(&q.callbacks.failure, cb) }

// OnCancel registers cb for cancelled actions.
func (q *Queue) OnCancel(cb Callback) { q.subscribe(&q.callbacks.cancel, cb) }

// OnAlways registers cb for every settlement. These run after the specific lists.
func (q *Queue) OnAlways(cb Callback) { q.subscribe(&q.callbacks.always, cb) }

func (q *Queue) subscribe(list *[]Callback, cb Callback) {
	if cb == nil {
		return
	}
	q.mu.Lock()
	*list = append(*list, cb)
	q.mu.Unlock()
}

// ---- State ----

// Len returns pending plus running actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.len() + q.pool.busy()
}

// Running returns the number of occupied worker slots.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pool.busy()
}

// Busy reports whether anything is pending or running.
func (q *Queue) Busy() bool { return q.Len() > 0 }

// Paused reports whether admission is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Pause stops admitting pending actions. Running actions continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts admission immediately.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.run()
}

func (q *Queue) String() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fmt.Sprintf("actionqueue(workers=%d running=%d pending=%d paused=%t)",
		q.pool.size(), q.pool.busy(), q.pending.len(), q.paused)
}
