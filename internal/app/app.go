// Package app wires the action queue to its configuration, job triggers and
// settlement journal, and runs them under one supervisor.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.opentelemetry.io/otel"

	"actionqueue/internal/config"
	"actionqueue/internal/eventbus"
	"actionqueue/internal/jobs"
	"actionqueue/internal/observability/diag"
	"actionqueue/internal/observability/metrics"
	"actionqueue/internal/runtime/supervisor"
	"actionqueue/internal/storage"
	"actionqueue/internal/trigger"
	"actionqueue/pkg/actionqueue"
	logx "actionqueue/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	queue    *actionqueue.Queue
	triggers *trigger.Service
	jobs     jobs.Builder
	diag     *diag.Server
	meters   *metrics.Provider
	recorder *metrics.Recorder

	closeSystemd func() error

	retention  time.Duration
	pruneEvery time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	sup := supervisor.New(context.Background(),
		supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	q := actionqueue.New(mapQueueConfig(cfg),
		actionqueue.WithLogger(log.With(logx.String("comp", "queue"))),
		actionqueue.WithBus(bus),
		actionqueue.WithSpawner(sup.Spawner()))
	if cfg.Queue.Paused {
		q.Pause()
	}

	trig := trigger.New(mapTriggerConfig(cfg), q, log.With(logx.String("comp", "trigger")), bus)

	a := &App{
		cfgm:     cfgm,
		sup:      sup,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		queue:    q,
		triggers: trig,
	}

	sc, enabled, retention, err := mapStorageConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.store = st
		a.retention = retention
		a.pruneEvery = pruneInterval(retention)
		log.Info("journal enabled", logx.String("driver", sc.Driver), logx.Duration("retention", retention))
	}

	a.meters = metrics.NewProvider()
	otel.SetMeterProvider(a.meters.MeterProvider())
	if a.recorder, err = metrics.New(a.meters.Meter(), q); err != nil {
		a.closeResources()
		return nil, err
	}

	ctl, closeSystemd, err := openSystemd(context.Background(), cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.jobs = jobs.Builder{Systemd: ctl}
	a.closeSystemd = closeSystemd

	dc, diagEnabled, err := mapDiagConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	if diagEnabled {
		a.diag = diag.New(dc, diag.Sources{
			Queue:      q,
			Triggers:   a.triggers,
			Supervisor: sup,
			Journal:    a.store,
			Metrics:    a.meters,
			Events:     bus,
		}, log.With(logx.String("comp", "diag")))
	}

	trs, err := mapTriggers(cfg, a.jobs)
	if err == nil {
		err = a.triggers.Sync(trs)
	}
	if err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) Queue() *actionqueue.Queue          { return a.queue }
func (a *App) Triggers() *trigger.Service         { return a.triggers }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }
func (a *App) Diagnostics() *diag.Server          { return a.diag }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error { return a.sup.Err() }

func (a *App) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() { err = a.start(ctx) })
	return err
}

func (a *App) start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	context.AfterFunc(ctx, a.sup.Cancel)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDiagConfig(cfg); err != nil {
			return err
		}
		_, err := mapTriggers(cfg, a.jobs)
		return err
	})

	if a.store != nil {
		// Subscribe before anything can be admitted so no settlement is missed.
		events, unsub := a.bus.Subscribe(journalBuffer, "action.")
		a.sup.Go0("journal.record", func(c context.Context) {
			defer unsub()
			a.recordLoop(c, events)
		})
		if a.retention > 0 {
			a.sup.GoRestart("journal.prune", a.pruneLoop,
				supervisor.WithRestartBackoff(time.Second, time.Minute))
		}
	}

	metricEvents, unsubMetrics := a.bus.Subscribe(journalBuffer, "action.", trigger.EventFired)
	a.sup.Go0("metrics.record", func(c context.Context) {
		defer unsubMetrics()
		a.recorder.Run(c, metricEvents)
	})

	if a.diag != nil {
		// Diagnostics are optional; a broken listener must not stop the app.
		a.sup.GoRestart("diag.serve", a.diag.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.triggers.Start(a.sup.Context())

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.Int("workers", a.queue.Workers()),
		logx.Bool("paused", a.queue.Paused()),
		logx.Int("triggers", len(a.triggers.Snapshot().Schedules)),
	)
	return nil
}

// Stop shuts down in order: triggers, queue, supervised goroutines, journal
// and logs. Every action still pending or running is cancelled.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.step(ctx, "triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	a.step(ctx, "queue", time.Second, func(context.Context) error {
		snap := a.queue.Snapshot()
		a.queue.Clear()
		if snap.Running+snap.Pending > 0 {
			a.log.Info("queue cleared", logx.Int("running", snap.Running), logx.Int("pending", snap.Pending))
		}
		return nil
	})
	// The journal recorder drains what Clear published before it exits.
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.closeSystemd() })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error {
		_ = a.recorder.Close()
		return a.meters.Shutdown(c)
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// closeResources releases what New opened when construction fails.
func (a *App) closeResources() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.closeSystemd != nil {
		_ = a.closeSystemd()
	}
	if a.meters != nil {
		_ = a.meters.Shutdown(context.Background())
	}
	a.sup.Cancel()
	_ = a.logs.Close()
}
