// Package diag serves an optional HTTP endpoint for inspecting and steering a
// running queue: status, queued entries, journal, manual trigger firing and
// runtime profiles.
package diag

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"actionqueue/internal/eventbus"
	"actionqueue/internal/observability/metrics"
	"actionqueue/internal/runtime/supervisor"
	"actionqueue/internal/storage"
	"actionqueue/internal/trigger"
	"actionqueue/pkg/actionqueue"
	"actionqueue/pkg/future"
	logx "actionqueue/pkg/logx"
)

const (
	defaultAddr         = "127.0.0.1:6061"
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// Config controls the diagnostics server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Check reports a config that would expose the server without auth.
func (c Config) Check() error {
	addr := c.addr()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("diagnostics.addr: %w", err)
	}
	if !c.AllowInsecure && strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("diagnostics.addr %q: non-loopback addr requires token or allow_insecure", addr)
	}
	return nil
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// Queue is the part of the action queue the server reads and steers.
type Queue interface {
	Snapshot() actionqueue.Snapshot
	Info() actionqueue.Info
	Pause()
	Resume()
	Clear()
}

// Triggers is the part of the trigger service the server uses.
type Triggers interface {
	Snapshot() trigger.Snapshot
	Fire(name string) (*future.Future, error)
}

// Metrics yields the current instrument readings.
type Metrics interface {
	Collect(ctx context.Context) ([]metrics.Point, error)
}

// Sources are the components exposed by the server. Only Queue is required.
type Sources struct {
	Queue      Queue
	Triggers   Triggers
	Supervisor *supervisor.Supervisor
	Journal    storage.Store
	Metrics    Metrics
	Events     eventbus.Bus
}

type Server struct {
	cfg Config
	src Sources
	log logx.Logger

	mu    sync.Mutex
	bound string
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log}
}

// Addr returns the address the server is listening on, or "" when it is not.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Serve listens and serves until ctx is done. A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.cfg.Check(); err != nil {
		s.log.Error("diagnostics refused to start", logx.Err(err))
		return err
	}
	addr := s.cfg.addr()
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("diagnostics running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.bound = ""
		s.mu.Unlock()
	}()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		case <-stopped:
		}
	}()

	s.log.Info("diagnostics started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("diagnostics server exited unexpectedly")
	}
	return err
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", wrap(s.handleStatus))
	mux.HandleFunc("GET /queue", wrap(s.handleQueue))
	mux.HandleFunc("POST /queue/pause", wrap(s.control(s.src.Queue.Pause)))
	mux.HandleFunc("POST /queue/resume", wrap(s.control(s.src.Queue.Resume)))
	mux.HandleFunc("POST /queue/clear", wrap(s.control(s.src.Queue.Clear)))
	mux.HandleFunc("POST /queue/{id}/cancel", wrap(s.handleCancel))
	mux.HandleFunc("POST /triggers/{name}/fire", wrap(s.handleFire))
	mux.HandleFunc("GET /journal", wrap(s.handleJournal))
	mux.HandleFunc("GET /metrics", wrap(s.handleMetrics))

	if s.cfg.Pprof {
		mux.HandleFunc("GET /debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("GET /debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("GET /debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("GET /debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("GET /debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

// ---- Handlers ----

type statusView struct {
	Queue      actionqueue.Snapshot `json:"queue"`
	Triggers   *trigger.Snapshot    `json:"triggers,omitempty"`
	Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`

	// EventsDropped counts bus deliveries lost to full subscribers, journal included.
	EventsDropped uint64 `json:"events_dropped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	v := statusView{Queue: s.src.Queue.Snapshot()}
	if s.src.Triggers != nil {
		ts := s.src.Triggers.Snapshot()
		v.Triggers = &ts
	}
	if s.src.Supervisor != nil {
		ss := s.src.Supervisor.Snapshot()
		v.Supervisor = &ss
	}
	if s.src.Events != nil {
		v.EventsDropped = s.src.Events.Dropped()
	}
	writeJSON(w, http.StatusOK, v)
}

type entryView struct {
	ID    string `json:"id"`
	Extra []any  `json:"extra,omitempty"`
}

type queueView struct {
	Paused  bool        `json:"paused"`
	Running []entryView `json:"running"`
	Pending []entryView `json:"pending"`
}

func entryViews(entries []actionqueue.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{ID: e.ID, Extra: e.Extra})
	}
	return out
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	info := s.src.Queue.Info()
	writeJSON(w, http.StatusOK, queueView{
		Paused:  s.src.Queue.Snapshot().Paused,
		Running: entryViews(info.Running),
		Pending: entryViews(info.Pending),
	})
}

func (s *Server) control(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		s.log.Info("queue control via diagnostics", logx.String("path", r.URL.Path))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info := s.src.Queue.Info()
	for _, list := range [][]actionqueue.Entry{info.Running, info.Pending} {
		for _, e := range list {
			if e.ID == id {
				writeJSON(w, http.StatusOK, map[string]bool{"cancelled": e.Cancel()})
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no queued action %q", id))
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	if s.src.Triggers == nil {
		writeError(w, http.StatusNotFound, errors.New("triggers are not configured"))
		return
	}
	name := r.PathValue("name")
	if _, err := s.src.Triggers.Fire(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, trigger.ErrUnknownTrigger) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.src.Journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal is disabled"))
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxJournalLimit)
	}
	recs, err := s.src.Journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.src.Metrics == nil {
		writeError(w, http.StatusNotFound, errors.New("metrics are disabled"))
		return
	}
	points, err := s.src.Metrics.Collect(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if points == nil {
		points = []metrics.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	// addr is expected in host:port (host may be empty).
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
