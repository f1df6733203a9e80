package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"actionqueue/internal/storage"
	logx "actionqueue/pkg/logx"
	"actionqueue/pkg/systemd"
)

// Validate checks the parts of cfg that do not need other packages.
// Schedules are checked by the trigger parser through the Manager's validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if cfg.Queue.Workers < 0 {
		errs = append(errs, fmt.Errorf("queue.workers: must be >= 0, got %d", cfg.Queue.Workers))
	}
	if cfg.Queue.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("queue.history_size: must be >= 0, got %d", cfg.Queue.HistorySize))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", logx.FormatConsole, logx.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format: want %q or %q, got %q", logx.FormatConsole, logx.FormatJSON, cfg.Logging.Format))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if s := cfg.Storage; s != nil {
		if _, err := storage.ParseDriver(s.Driver); err != nil {
			errs = append(errs, fmt.Errorf("storage.driver: %w", err))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Systemd.Backend)) {
	case "", SystemdSystemctl, SystemdDBus:
	default:
		errs = append(errs, fmt.Errorf("systemd.backend: unknown backend %q", cfg.Systemd.Backend))
	}
	if d := cfg.Diagnostics; d != nil {
		for key, raw := range map[string]string{
			"diagnostics.read_timeout":  d.ReadTimeout,
			"diagnostics.write_timeout": d.WriteTimeout,
			"diagnostics.idle_timeout":  d.IdleTimeout,
		} {
			if _, err := ParseDurationField(key, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		case seen[name]:
			errs = append(errs, fmt.Errorf("%s.name: duplicate job %q", path, name))
		default:
			seen[name] = true
		}
		if strings.TrimSpace(j.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		switch j.EffectiveMode() {
		case ModeAppend, ModePrepend, ModeReplace:
		default:
			errs = append(errs, fmt.Errorf("%s.mode: unknown mode %q", path, j.Mode))
		}
		switch j.Kind {
		case KindSleep:
			if _, err := ParseDurationField(path+".duration", j.Duration); err != nil {
				errs = append(errs, err)
			}
		case KindExec:
			if strings.TrimSpace(j.Command) == "" {
				errs = append(errs, fmt.Errorf("%s.command: required for exec jobs", path))
			}
			if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
				errs = append(errs, err)
			}
		case KindSystemd:
			if strings.TrimSpace(j.Unit) == "" {
				errs = append(errs, fmt.Errorf("%s.unit: required for systemd jobs", path))
			}
			if !systemd.ValidOp(j.Op) {
				errs = append(errs, fmt.Errorf("%s.op: unknown operation %q", path, j.Op))
			}
			if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("%s.kind: unknown kind %q", path, j.Kind))
		}
	}
	return errors.Join(errs...)
}
