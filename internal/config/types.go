package config

// Config is the on-disk application configuration (JSON or YAML).
type Config struct {
	Queue     QueueConfig     `json:"queue"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is the optional settlement journal. Nil disables it.
	Storage *StorageConfig `json:"storage,omitempty"`

	Systemd SystemdConfig `json:"systemd"`

	// Diagnostics is the optional HTTP status/control endpoint. Nil disables it.
	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`
}

// QueueConfig controls the action queue.
//
// Workers is fixed for the life of the process; a changed value is reported
// on reload but only applied by a restart. Paused is applied live.
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - create_futures: true
//   - reject_canceled: true
//   - history_size: 200
type QueueConfig struct {
	Workers        int   `json:"workers,omitempty"`
	CreateFutures  *bool `json:"create_futures,omitempty"`
	RejectCanceled *bool `json:"reject_canceled,omitempty"`
	HistorySize    int   `json:"history_size,omitempty"`
	Paused         bool  `json:"paused,omitempty"`
}

// StorageConfig controls the settlement journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/journal.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention prunes records older than this (Go duration string). Empty keeps everything.
	Retention string `json:"retention,omitempty"`
}

// Systemd backends.
const (
	SystemdSystemctl = "systemctl"
	SystemdDBus      = "dbus"
)

// SystemdConfig selects how systemd jobs reach systemd. Changes need a restart.
type SystemdConfig struct {
	// Backend is "systemctl" (default) or "dbus" (system bus, waits for the job result).
	Backend string `json:"backend,omitempty"`
	// Bin overrides the systemctl binary.
	Bin string `json:"bin,omitempty"`
}

// DiagnosticsConfig controls the diagnostics HTTP server. Changes need a restart.
//
// Example:
//
//	"diagnostics": { "enabled": true, "addr": "127.0.0.1:6061", "pprof": true }
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6061
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console (default) or json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger service.
//
// Enabled is a pointer so "omitted" (enabled) can be told apart from false.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// TriggersEnabled reports whether jobs should be scheduled.
func (s SchedulerConfig) TriggersEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Job kinds.
const (
	KindSleep   = "sleep"
	KindExec    = "exec"
	KindSystemd = "systemd" // systemctl <op> <unit>
)

// Submission modes.
const (
	ModeAppend  = "append"
	ModePrepend = "prepend"
	ModeReplace = "replace"
)

// JobConfig describes one scheduled action.
//
// Schedule accepts a cron expression (seconds optional, descriptors allowed),
// "every:<duration>", an "HH:MM" interval or "daily:HH:MM".
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Mode     string `json:"mode,omitempty"` // append (default), prepend or replace
	Kind     string `json:"kind"`
	Disabled bool   `json:"disabled,omitempty"`

	// SkipIfQueued drops a firing while the previous run is still pending or running.
	SkipIfQueued bool `json:"skip_if_queued,omitempty"`

	// Duration is how long a sleep job takes.
	Duration string `json:"duration,omitempty"`

	// Command/Args/Timeout configure an exec job. Timeout "0s" or empty means none.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"`

	// Unit/Op configure a systemd job. Op is start, stop or restart.
	Unit string `json:"unit,omitempty"`
	Op   string `json:"op,omitempty"`

	// Extra values are passed to subscribers after the job name.
	Extra []any `json:"extra,omitempty"`
}

// EffectiveMode returns Mode with the default applied.
func (j JobConfig) EffectiveMode() string {
	if j.Mode == "" {
		return ModeAppend
	}
	return j.Mode
}
