package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"actionqueue/internal/eventbus"
	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

var ErrUnknownTrigger = errors.New("trigger: unknown trigger")

// Service fires registered triggers on their schedules and submits their
// actions to the queue. Triggers can be registered before Start; they are
// kept across Stop/Start and timezone changes.
type Service struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	q   Submitter

	c    *cron.Cron
	loc  *time.Location
	defs map[string]*scheduleDef

	// life is the ctx given to Start; once it is done the runner stays stopped.
	life     context.Context
	stopLife func() bool
}

func New(cfg Config, q Submitter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, q: q, log: log, bus: bus, defs: map[string]*scheduleDef{}}
}

// Start begins firing if the service is enabled. Firing stops when ctx is
// done, and a later Apply will not restart it.
func (s *Service) Start(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLife != nil {
		s.stopLife()
	}
	s.life = ctx
	s.stopLife = context.AfterFunc(ctx, func() { s.Stop(context.Background()) })
	if !s.cfg.Enabled {
		s.log.Info("triggers disabled", logx.Int("schedules", len(s.defs)))
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops firing. Actions already submitted are not affected.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the config, starting, stopping or restarting the runner as needed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	running := s.c != nil
	switch {
	case !cfg.Enabled && running:
		s.mu.Unlock()
		s.Stop(context.Background())
		return
	case cfg.Enabled && !running && s.aliveLocked():
		s.startLocked()
	case running && oldTZ != strings.TrimSpace(cfg.Timezone):
		s.restartLocked()
	}
	s.mu.Unlock()
}

func (s *Service) aliveLocked() bool { return s.life == nil || s.life.Err() == nil }

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers t, replacing any trigger with the same name.
func (s *Service) Add(t Trigger) error {
	d, err := newDef(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.Name)
	s.defs[d.Name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Sync makes the registered set equal to triggers: missing names are removed,
// the rest are upserted. Nothing changes if any trigger is invalid.
func (s *Service) Sync(triggers []Trigger) error {
	defs := make(map[string]*scheduleDef, len(triggers))
	var errs []error
	for _, t := range triggers {
		d, err := newDef(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs[d.Name] = d
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.defs {
		s.removeLocked(name)
	}
	for _, d := range defs {
		s.defs[d.Name] = d
		if s.c != nil {
			s.registerLocked(d)
		}
	}
	s.log.Debug("triggers synced", logx.Int("schedules", len(defs)))
	return nil
}

// Remove unregisters the named trigger. It reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// Fire submits the named trigger's action now, outside its schedule.
// The returned future is nil when the firing was skipped or futures are disabled.
func (s *Service) Fire(name string) (*future.Future, error) {
	s.mu.Lock()
	d := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if d == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownTrigger, name)
	}
	return s.fire(d, true), nil
}

func newDef(t Trigger) (*scheduleDef, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, errors.New("trigger: name required")
	}
	if t.Action == nil {
		return nil, fmt.Errorf("trigger %s: action required", t.Name)
	}
	switch t.Mode {
	case "":
		t.Mode = ModeAppend
	case ModeAppend, ModePrepend, ModeReplace:
	default:
		return nil, fmt.Errorf("trigger %s: unknown mode %q", t.Name, t.Mode)
	}
	ps, err := ParseSchedule(t.Schedule)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", t.Name, err)
	}
	t.Extra = append([]any(nil), t.Extra...)
	return &scheduleDef{Trigger: t, spec: ps}, nil
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
	delete(s.defs, name)
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

// registerLocked adds d to the running cron. Intervals get a startup spread.
func (s *Service) registerLocked(d *scheduleDef) {
	job := cron.FuncJob(func() { s.fire(d, false) })

	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.Name)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, job)
	} else {
		eid, err := s.c.AddJob(d.spec.Cron, job)
		if err != nil {
			// ParseSchedule already compiled the spec, so this is unexpected.
			s.log.Error("schedule register failed", logx.String("name", d.Name), logx.String("spec", d.spec.Cron), logx.Err(err))
			return
		}
		d.entryID = eid
	}

	fields := []logx.Field{logx.String("name", d.Name), logx.String("spec", d.spec.CronSpec()), logx.String("mode", d.Mode)}
	if next := s.previewNextRunsLocked(d, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
}

func (s *Service) restartLocked() {
	c := s.c
	s.c = nil
	if c != nil {
		<-c.Stop().Done()
	}
	s.startLocked()
}

// fire submits d's action with its mode. It runs on cron's goroutines.
func (s *Service) fire(d *scheduleDef, manual bool) *future.Future {
	now := time.Now()
	if d.SkipIfQueued && s.queued(d.Name) {
		d.skipped.Add(1)
		s.log.Debug("trigger skipped; previous run still queued", logx.String("name", d.Name))
		s.publish(FiredEvent{Name: d.Name, Mode: d.Mode, At: now, Skipped: true, Manual: manual})
		return nil
	}

	extra := make([]any, 0, 1+len(d.Extra))
	extra = append(extra, d.Name)
	extra = append(extra, d.Extra...)

	var f *future.Future
	switch d.Mode {
	case ModePrepend:
		f = s.q.Prepend(d.Action, extra...)
	case ModeReplace:
		f = s.q.Replace(d.Action, extra...)
	default:
		f = s.q.Append(d.Action, extra...)
	}
	d.fired.Add(1)
	s.log.Debug("trigger fired", logx.String("name", d.Name), logx.String("mode", d.Mode), logx.Bool("manual", manual))
	s.publish(FiredEvent{Name: d.Name, Mode: d.Mode, At: now, Manual: manual})
	return f
}

// queued reports whether an action submitted by the named trigger is still
// pending or running. Triggers tag their actions with their name as the first
// correlation value.
func (s *Service) queued(name string) bool {
	info := s.q.Info()
	for _, list := range [][]actionqueue.Entry{info.Running, info.Pending} {
		for _, e := range list {
			if len(e.Extra) > 0 && e.Extra[0] == name {
				return true
			}
		}
	}
	return false
}

func (s *Service) publish(ev FiredEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: EventFired, Time: ev.At, Data: ev})
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists the next n run times for debug logging.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || s.c == nil || d.entryID == 0 {
		return ""
	}
	sched := s.c.Entry(d.entryID).Schedule
	if sched == nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

// Snapshot returns the registered triggers sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:    d.Name,
			Spec:    d.spec.CronSpec(),
			Mode:    d.Mode,
			Fired:   d.fired.Load(),
			Skipped: d.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}
