package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Console formats.
const (
	FormatConsole = "console" // human readable, colourless
	FormatJSON    = "json"    // one JSON object per line, e.g. for journald
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./actionqueue.log"
)

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

type Config struct {
	Level string
	// Console enables the stdout sink. With no sink enabled, console is used.
	Console bool
	// Format is FormatConsole (default) or FormatJSON for the stdout sink.
	Format string
	File   FileConfig
}

// FileConfig is an append-only JSON sink.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks and lets them change at run time. Loggers taken
// from it pick up every Apply without being rebuilt.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	file     *os.File
	filePath string

	root atomic.Pointer[zerolog.Logger]
}

// NewService applies cfg and returns the service with its root Logger.
func NewService(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func setGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Close closes the file sink. Later entries go to the console sink only.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	cfg := s.cfg
	cfg.File.Enabled = false
	s.swap(cfg)
	return err
}

// Apply swaps level and sinks. The file sink stays open when its path is
// unchanged. A file that cannot be opened is reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	want := ""
	if cfg.File.Enabled {
		want = strings.TrimSpace(cfg.File.Path)
		if want == "" {
			want = defaultFilePath
		}
	}
	if s.file != nil && s.filePath != want {
		_ = s.file.Close()
		s.file, s.filePath = nil, ""
	}
	if want != "" && s.file == nil {
		f, err := openLogFile(want)
		if err != nil {
			fmt.Fprintf(stderr, "logx: %v\n", err)
		} else {
			s.file, s.filePath = f, want
		}
	}
	s.swap(cfg)
}

// swap rebuilds the root logger from cfg and the open file. Callers hold mu.
func (s *Service) swap(cfg Config) {
	writers := make([]io.Writer, 0, 2)
	if cfg.Console || s.file == nil {
		writers = append(writers, consoleWriter(stdout, cfg.Format))
	}
	if s.file != nil {
		writers = append(writers, zerolog.SyncWriter(s.file))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func consoleWriter(w io.Writer, format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		return zerolog.SyncWriter(w)
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: true}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}
