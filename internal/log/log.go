package log

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Sink receives every line a Logger emits. Debug lines only reach it when
// debugging is enabled.
type Sink func(level Level, msg string)

// Logger is handed to every component instead of a process-wide logger.
type Logger struct {
	logger *log.Logger
	debug  bool
	sink   Sink
}

type Option func(*Logger)

func WithDebug(debug bool) Option {
	return func(l *Logger) {
		l.debug = debug
	}
}

func WithSink(sink Sink) Option {
	return func(l *Logger) {
		l.sink = sink
	}
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxFiles   int
	MaxAgeDays int
}

// WithFile tees output to a rotating log file.
func WithFile(cfg FileConfig) Option {
	return func(l *Logger) {
		if cfg.Path == "" {
			return
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxFiles,
			MaxAge:     cfg.MaxAgeDays,
		}
		l.logger.SetOutput(io.MultiWriter(l.logger.Writer(), lj))
	}
}

func New(w io.Writer, options ...Option) *Logger {
	l := &Logger{
		logger: log.New(w, "", log.LstdFlags|log.Lshortfile),
		debug:  os.Getenv("TIMEFIX_DEBUG") != "",
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return New(io.Discard)
}

// With returns a copy of l that additionally forwards lines to sink.
func (l *Logger) With(sink Sink) *Logger {
	c := *l
	prev := l.sink
	c.sink = func(level Level, msg string) {
		if prev != nil {
			prev(level, msg)
		}
		sink(level, msg)
	}
	return &c
}

func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *Logger) Debugging() bool {
	return l.debug
}

func (l *Logger) output(level Level, msg string) {
	if level == LevelDebug && !l.debug {
		return
	}
	l.logger.Output(3, msg)
	if l.sink != nil {
		l.sink(level, msg)
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.output(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.output(LevelWarning, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.output(LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf(format, args...)
}
