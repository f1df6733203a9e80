package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"actionqueue/internal/config"
	"actionqueue/internal/jobs"
	"actionqueue/internal/observability/diag"
	"actionqueue/internal/storage"
	"actionqueue/internal/trigger"
	"actionqueue/pkg/actionqueue"
	logx "actionqueue/pkg/logx"
	"actionqueue/pkg/systemd"
)

func mapQueueConfig(cfg *config.Config) actionqueue.Config {
	qc := cfg.Queue
	return actionqueue.Config{
		Workers:        qc.Workers,
		CreateFutures:  qc.CreateFutures,
		RejectCanceled: qc.RejectCanceled,
		HistorySize:    qc.HistorySize,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  strings.TrimSpace(cfg.Logging.Format),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{
		Enabled:  cfg.Scheduler.TriggersEnabled(),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

// mapStorageConfig returns the journal config, whether it is enabled and its
// retention (0 keeps everything).
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, time.Duration, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, 0, nil
	}
	sc := cfg.Storage
	driver, err := storage.ParseDriver(sc.Driver)
	if err != nil {
		return storage.Config{}, false, 0, fmt.Errorf("storage.driver: %w", err)
	}
	if driver == storage.DriverNone {
		return storage.Config{}, false, 0, nil
	}
	path := strings.TrimSpace(sc.Path)
	if driver == storage.DriverSQLite && path == "" {
		return storage.Config{}, false, 0, fmt.Errorf("storage.path is required when storage.driver=sqlite")
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, 0, err
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, 0, err
	}
	out := storage.Config{Driver: driver, Path: path}
	if driver == storage.DriverSQLite {
		out.BusyTimeout = busy
	}
	return out, true, retention, nil
}

// mapDiagConfig returns the diagnostics server config and whether it is enabled.
func mapDiagConfig(cfg *config.Config) (diag.Config, bool, error) {
	d := cfg.Diagnostics
	if d == nil || !d.Enabled {
		return diag.Config{}, false, nil
	}
	dc := diag.Config{
		Addr:          strings.TrimSpace(d.Addr),
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
	var err error
	if dc.ReadTimeout, err = config.ParseDurationOrDefault("diagnostics.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return diag.Config{}, false, err
	}
	// pprof profiles stream for up to 30s by default.
	if dc.WriteTimeout, err = config.ParseDurationOrDefault("diagnostics.write_timeout", d.WriteTimeout, 60*time.Second); err != nil {
		return diag.Config{}, false, err
	}
	if dc.IdleTimeout, err = config.ParseDurationOrDefault("diagnostics.idle_timeout", d.IdleTimeout, 60*time.Second); err != nil {
		return diag.Config{}, false, err
	}
	if err := dc.Check(); err != nil {
		return diag.Config{}, false, err
	}
	return dc, true, nil
}

// openSystemd returns the controller for systemd jobs and, for the D-Bus
// backend, the connection to close on shutdown.
func openSystemd(ctx context.Context, cfg *config.Config) (systemd.Controller, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Systemd.Backend)) {
	case config.SystemdDBus:
		d, err := systemd.NewDBus(ctx)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return systemd.Runner{Bin: strings.TrimSpace(cfg.Systemd.Bin)}, func() error { return nil }, nil
	}
}

// mapTriggers builds one trigger per enabled job. It fails on the first job
// whose action or schedule is invalid.
func mapTriggers(cfg *config.Config, b jobs.Builder) ([]trigger.Trigger, error) {
	out := make([]trigger.Trigger, 0, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.Disabled {
			continue
		}
		if _, err := trigger.ParseSchedule(job.Schedule); err != nil {
			return nil, fmt.Errorf("jobs.%s.schedule: %w", job.Name, err)
		}
		action, err := b.Build(job)
		if err != nil {
			return nil, err
		}
		out = append(out, trigger.Trigger{
			Name:         job.Name,
			Schedule:     job.Schedule,
			Mode:         job.EffectiveMode(),
			Action:       action,
			Extra:        job.Extra,
			SkipIfQueued: job.SkipIfQueued,
		})
	}
	return out, nil
}

// CheckConfig loads and validates the config at path, including every job's
// schedule and action, without starting anything.
func CheckConfig(path string) error {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	_, err = mapTriggers(cfg, jobs.Builder{})
	return err
}

// OpenJournal opens the journal configured at path without starting the app.
// The caller closes the returned store.
func OpenJournal(path string) (storage.Store, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	sc, ok, _, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage is disabled in %s", path)
	}
	return storage.Open(sc, logx.Nop())
}
