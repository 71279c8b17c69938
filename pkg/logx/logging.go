package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Logger is a structured logger handle. Handles created from a Service
// pick up Service.Apply changes immediately; the zero value discards
// everything and is safe to use.
type Logger struct {
	svc    *Service
	own    zerolog.Logger
	bound  bool
	fields []Field
}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return Logger{own: zerolog.Nop(), bound: true}
}

// IsZero reports whether the logger was never initialized. Nop loggers
// are not zero.
func (l Logger) IsZero() bool { return l.svc == nil && !l.bound && len(l.fields) == 0 }

// With returns a logger that attaches fields to every event it emits.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	l.fields = merged
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) backend() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.root()
	case l.bound:
		return l.own
	default:
		return zerolog.Nop()
	}
}

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.backend()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok && file != "" {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// Service owns the output sinks and the active level. The root logger
// lives in an atomic so Apply never blocks emitters.
type Service struct {
	mu   sync.Mutex
	live atomic.Value // zerolog.Logger
	file *os.File
}

// New builds the service, applies cfg, and returns a root Logger bound
// to it.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	s.live.Store(zerolog.Nop())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Logger returns a fresh root handle bound to the service.
func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) root() zerolog.Logger {
	zl, _ := s.live.Load().(zerolog.Logger)
	return zl
}

// Apply rebuilds the sink set and level from cfg. Safe to call while
// other goroutines log.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./nftwatch.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: cannot open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.live.Store(zl)
}

// Close releases the file sink, if one is open. Emitting after Close
// still works through the remaining sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter() io.Writer {
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	// The caller field is already file:line; keep it verbatim.
	cw.FormatCaller = func(v any) string {
		str, _ := v.(string)
		return str
	}
	return cw
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
