package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the timestamp layout of both formatters
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// NewFormatter returns the formatter for a format name: "text", "console"
// (text with colors) or "json".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return NewTextFormatter(), nil
	case "console":
		f := NewTextFormatter()
		f.Colors = true
		return f, nil
	case "json":
		return NewJSONFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// TextFormatter renders one line per entry:
//
//	2025-01-02T15:04:05.000Z INFO  component: message key=value ...
//
// Fields are sorted by key.
type TextFormatter struct {
	Colors bool
}

// NewTextFormatter creates an uncolored text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

var levelColors = map[Level]string{
	DebugLevel: "\033[90m",
	InfoLevel:  "\033[34m",
	WarnLevel:  "\033[33m",
	ErrorLevel: "\033[31m",
}

func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(entry.Time.Format(TimeLayout))
	buf.WriteByte(' ')

	level := fmt.Sprintf("%-5s", entry.Level.String())
	if color, ok := levelColors[entry.Level]; ok && f.Colors {
		level = color + level + "\033[0m"
	}
	buf.WriteString(level)
	buf.WriteByte(' ')

	if entry.Component != "" {
		buf.WriteString(entry.Component)
		buf.WriteString(": ")
	}
	buf.WriteString(entry.Message)

	fields := append([]Field(nil), entry.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	for _, field := range fields {
		buf.WriteByte(' ')
		buf.WriteString(field.Key)
		buf.WriteByte('=')
		buf.WriteString(textValue(field.Value))
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func textValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case error:
		s = val.Error()
	case string:
		s = val
	case time.Duration:
		s = val.String()
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " =\"\n\t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONFormatter renders one JSON object per entry with "time", "level",
// "msg" and, when set, "component", followed by the fields.
type JSONFormatter struct{}

// NewJSONFormatter creates a JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+4)
	for _, field := range entry.Fields {
		data[field.Key] = jsonValue(field.Value)
	}
	data["time"] = entry.Time.Format(TimeLayout)
	data["level"] = strings.ToLower(entry.Level.String())
	data["msg"] = entry.Message
	if entry.Component != "" {
		data["component"] = entry.Component
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return append(out, '\n'), nil
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return val.String()
	case json.Marshaler:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}
