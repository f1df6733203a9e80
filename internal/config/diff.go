package config

import (
	"sort"
	"strings"

	logx "actionqueue/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Jobs lists the names of added, removed or modified jobs, sorted.
	Jobs []string
	// RestartRequired is set when a setting that is only read at startup changed.
	RestartRequired bool
	// Fields are safe structured attrs for logging.
	Fields []logx.Field
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares oldCfg and newCfg. Nil configs are treated as empty.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	oq, nq := oldCfg.Queue, newCfg.Queue
	startup := oq.Workers != nq.Workers || oq.HistorySize != nq.HistorySize ||
		boolOr(oq.CreateFutures, true) != boolOr(nq.CreateFutures, true) ||
		boolOr(oq.RejectCanceled, true) != boolOr(nq.RejectCanceled, true)
	if startup || oq.Paused != nq.Paused {
		c.Sections = append(c.Sections, "queue")
		c.Fields = append(c.Fields,
			logx.Int("queue.workers", nq.Workers),
			logx.Bool("queue.paused", nq.Paused),
		)
	}
	if startup {
		c.RestartRequired = true
	}

	if oldCfg.Logging != newCfg.Logging {
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.TriggersEnabled() != newCfg.Scheduler.TriggersEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		c.Sections = append(c.Sections, "scheduler")
		c.Fields = append(c.Fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.TriggersEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if hashJSON(oldCfg.Storage) != hashJSON(newCfg.Storage) {
		c.Sections = append(c.Sections, "storage")
		c.RestartRequired = true
		if s := newCfg.Storage; s != nil {
			c.Fields = append(c.Fields, logx.String("storage.driver", strings.TrimSpace(s.Driver)))
		}
	}

	if oldCfg.Systemd != newCfg.Systemd {
		c.Sections = append(c.Sections, "systemd")
		c.RestartRequired = true
	}

	if hashJSON(oldCfg.Diagnostics) != hashJSON(newCfg.Diagnostics) {
		c.Sections = append(c.Sections, "diagnostics")
		c.RestartRequired = true
	}

	c.Jobs = diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(c.Jobs) > 0 {
		c.Sections = append(c.Sections, "jobs")
		c.Fields = append(c.Fields,
			logx.Int("jobs.changed_count", len(c.Jobs)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(c.Sections)
	return c
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(jobs []JobConfig) map[string]uint64 {
		m := make(map[string]uint64, len(jobs))
		for _, j := range jobs {
			m[strings.TrimSpace(j.Name)] = hashJSON(j)
		}
		return m
	}
	oldM, newM := index(oldJobs), index(newJobs)

	var out []string
	for name, h := range oldM {
		if nh, ok := newM[name]; !ok || nh != h {
			out = append(out, name)
		}
	}
	for name := range newM {
		if _, ok := oldM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
