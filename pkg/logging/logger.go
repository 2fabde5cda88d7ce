// Package logging provides the structured logger used across the widget server.
// It supports text and JSON output, log levels, and picks up request, session
// and error context.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
)

// Level is the severity of a log entry
type Level int32

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel

	// levelOff silences a logger
	levelOff
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "debug" or "WARN" to a Level
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Field is a key-value pair attached to an entry
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// ErrorField attaches err under the "error" key
func ErrorField(err error) Field { return Field{Key: "error", Value: err} }

// Logger writes structured entries. Derived loggers share the output.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields returns a logger that adds fields to every entry
	WithFields(fields ...Field) Logger
	// WithContext adds the request and session ids carried by ctx
	WithContext(ctx context.Context) Logger
	// WithError adds err and, for taxonomy errors, its code and context
	WithError(err error) Logger

	SetLevel(level Level)
	Level() Level
}

// Entry is a single log record handed to a Formatter
type Entry struct {
	Time      time.Time
	Level     Level
	Message   string
	Component string
	Fields    []Field
}

// Formatter renders an entry
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// sink serializes writes from every logger derived from one root
type sink struct {
	mu        sync.Mutex
	out       io.Writer
	formatter Formatter
}

func (s *sink) write(entry *Entry) {
	data, err := s.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: format entry: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "logging: write entry: %v\n", err)
	}
}

type logger struct {
	sink   *sink
	level  *atomic.Int32
	fields []Field
}

// New creates a logger at info level. A nil output writes to stdout; a nil
// formatter writes plain text.
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stdout
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	level := &atomic.Int32{}
	level.Store(int32(InfoLevel))
	return &logger{sink: &sink{out: output, formatter: formatter}, level: level}
}

// NewWithConfig builds a logger from level and format names
func NewWithConfig(output io.Writer, level, format string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	formatter, err := NewFormatter(format)
	if err != nil {
		return nil, err
	}
	l := New(output, formatter)
	l.SetLevel(lvl)
	return l, nil
}

// Nop returns a logger that discards everything
func Nop() Logger {
	l := New(io.Discard, NewTextFormatter())
	l.SetLevel(levelOff)
	return l
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *logger) SetLevel(level Level) { l.level.Store(int32(level)) }
func (l *logger) Level() Level         { return Level(l.level.Load()) }

// WithFields shares the level with its parent, so SetLevel on the root
// applies to every derived logger.
func (l *logger) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &logger{sink: l.sink, level: l.level, fields: merged}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String("request_id", id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, String("session_id", id))
	}
	return l.WithFields(fields...)
}

func (l *logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	fields := []Field{ErrorField(err)}
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		return l.WithFields(fields...)
	}

	fields = append(fields,
		String("error_code", strconv.Itoa(mcpErr.Code())),
		String("error_kind", mcperrors.CodeName(mcpErr.Code())),
		String("error_category", string(mcpErr.Category())),
	)
	if cause := mcpErr.Unwrap(); cause != nil {
		fields = append(fields, String("cause", cause.Error()))
	}
	if ec := mcpErr.Context(); ec != nil {
		for _, f := range []Field{
			String("request_id", ec.RequestID),
			String("session_id", ec.SessionID),
			String("component", ec.Component),
			String("operation", ec.Operation),
		} {
			if f.Value != "" {
				fields = append(fields, f)
			}
		}
	}
	return l.WithFields(fields...)
}

func (l *logger) log(level Level, msg string, fields []Field) {
	if level < l.Level() {
		return
	}

	// Later fields replace earlier ones with the same key
	all := make([]Field, 0, len(l.fields)+len(fields))
	index := make(map[string]int, cap(all))
	entry := &Entry{Time: time.Now().UTC(), Level: level, Message: msg}
	for _, f := range append(append([]Field(nil), l.fields...), fields...) {
		if f.Key == "component" {
			if s, ok := f.Value.(string); ok {
				entry.Component = s
				continue
			}
		}
		if i, ok := index[f.Key]; ok {
			all[i] = f
			continue
		}
		index[f.Key] = len(all)
		all = append(all, f)
	}
	entry.Fields = all

	l.sink.write(entry)
}

type contextKey int

const (
	requestIDKey contextKey = iota
	sessionIDKey
)

// ContextWithRequestID returns a context carrying an HTTP request ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID carried by ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithSessionID returns a context carrying a session ID
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session ID carried by ctx, if any
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
