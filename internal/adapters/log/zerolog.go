package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/channeld/internal/ports"
)

// Config selects where log output goes.
type Config struct {
	// Level is a zerolog level name; empty means info.
	Level string
	// File is the log file path. Empty logs to stderr.
	File string
	// Console renders human-readable lines instead of JSON on stderr.
	Console bool
}

// Adapter implements ports.Logger on top of zerolog. The file sink can be
// reopened after rotation and the level changed while other goroutines log.
type Adapter struct {
	mu    sync.Mutex
	cfg   Config
	sink  *fileSink
	level zerolog.Level

	root atomic.Value // zerolog.Logger
}

// New creates an Adapter and opens its sink.
func New(cfg Config) (*Adapter, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, level: lvl}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewConsole returns an info-level Adapter writing readable lines to
// stderr. It is used before configuration is loaded.
func NewConsole() *Adapter {
	a := &Adapter{cfg: Config{Console: true}, level: zerolog.InfoLevel}
	_ = a.open()
	return a
}

// NewWithLogger wraps an existing zerolog.Logger. Reopen is a no-op.
func NewWithLogger(logger zerolog.Logger) *Adapter {
	a := &Adapter{level: logger.GetLevel()}
	a.root.Store(logger)
	return a
}

// open builds the root logger. Callers hold mu or own a.
func (a *Adapter) open() error {
	var w io.Writer
	if a.cfg.File != "" {
		sink, err := openFileSink(a.cfg.File)
		if err != nil {
			return err
		}
		a.sink = sink
		w = sink
	} else if a.cfg.Console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else {
		w = os.Stderr
	}
	a.root.Store(zerolog.New(w).Level(a.level).With().Timestamp().Logger())
	return nil
}

// Reopen switches to a freshly opened log file, picking up a rotated path.
// Loggers already handed out keep working and write to the new file.
func (a *Adapter) Reopen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil {
		return nil
	}
	return a.sink.reopen()
}

// SetLevel changes the minimum level.
func (a *Adapter) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.level = lvl
	a.root.Store(a.current().Level(lvl))
	return nil
}

// Close closes the log file, if any.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil {
		return nil
	}
	a.root.Store(zerolog.Nop())
	err := a.sink.close()
	a.sink = nil
	return err
}

// File returns the path being logged to, empty for stderr.
func (a *Adapter) File() string {
	return a.cfg.File
}

// Zerolog returns the current underlying logger.
func (a *Adapter) Zerolog() zerolog.Logger {
	return a.current()
}

func (a *Adapter) current() zerolog.Logger {
	zl, ok := a.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

// Debug logs a debug-level message.
func (a *Adapter) Debug(msg string, fields ...ports.Field) {
	l := a.current()
	emit(l.Debug(), msg, fields)
}

// Info logs an info-level message.
func (a *Adapter) Info(msg string, fields ...ports.Field) {
	l := a.current()
	emit(l.Info(), msg, fields)
}

// Warn logs a warning-level message.
func (a *Adapter) Warn(msg string, fields ...ports.Field) {
	l := a.current()
	emit(l.Warn(), msg, fields)
}

// Error logs an error-level message.
func (a *Adapter) Error(msg string, fields ...ports.Field) {
	l := a.current()
	emit(l.Error(), msg, fields)
}

func emit(event *zerolog.Event, msg string, fields []ports.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

// addField adds a Field to a zerolog.Event.
func addField(event *zerolog.Event, f ports.Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case uint64:
		return event.Uint64(f.Key, v)
	case float64:
		return event.Float64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case []string:
		return event.Strs(f.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(f.Key, v)
	}
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}

// fileSink is a log file that can be replaced while other goroutines write
// to it. Writes and the swap are serialized, so no write reaches a closed
// descriptor.
type fileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openFileSink(path string) (*fileSink, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{path: path, f: f}, nil
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, os.ErrClosed
	}
	return s.f.Write(p)
}

// reopen opens the path again and closes the previous file. On failure the
// previous file stays in use.
func (s *fileSink) reopen() error {
	f, err := openLogFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.f
	s.f = f
	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *fileSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
