// Package errors provides the structured error taxonomy of the widget server.
// Every error kind maps to a JSON-RPC error code and carries enough context
// (component, operation, request and session ids) to be logged or returned to
// the client without further translation.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"time"
)

// Category groups error kinds for metrics and logs
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryRegistry   Category = "registry"
	CategoryNotFound   Category = "not_found"
	CategoryTransport  Category = "transport"
	CategoryExecution  Category = "execution"
	CategoryResource   Category = "resource"
	CategoryTunnel     Category = "tunnel"
	CategoryInternal   Category = "internal"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where an error was raised
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error in the taxonomy
type MCPError interface {
	error

	// Code is the JSON-RPC error code
	Code() int
	// Message is the client-facing text, without internal detail
	Message() string
	// Data is the structured payload sent as the JSON-RPC error data
	Data() interface{}
	Category() Category
	Severity() Severity
	// Context is never nil
	Context() *Context

	WithContext(ctx *Context) MCPError
	WithDetail(detail string) MCPError
	Unwrap() error
}

type taxonomyError struct {
	code     int
	message  string
	detail   string
	data     interface{}
	severity Severity
	context  *Context
	cause    error
}

// newError builds an error of the kind registered for code
func newError(code int, message string, cause error, data interface{}) *taxonomyError {
	return &taxonomyError{
		code:     code,
		message:  message,
		data:     data,
		severity: kindOf(code).severity,
		context:  &Context{Timestamp: time.Now()},
		cause:    cause,
	}
}

func (e *taxonomyError) Error() string {
	if e.detail != "" {
		return e.message + ": " + e.detail
	}
	return e.message
}

func (e *taxonomyError) Code() int          { return e.code }
func (e *taxonomyError) Message() string    { return e.message }
func (e *taxonomyError) Data() interface{}  { return e.data }
func (e *taxonomyError) Category() Category { return kindOf(e.code).category }
func (e *taxonomyError) Severity() Severity { return e.severity }
func (e *taxonomyError) Context() *Context  { return e.context }
func (e *taxonomyError) Unwrap() error      { return e.cause }

func (e *taxonomyError) WithContext(ctx *Context) MCPError {
	clone := *e
	if ctx == nil {
		ctx = &Context{Timestamp: time.Now()}
	}
	clone.context = ctx
	return &clone
}

func (e *taxonomyError) WithDetail(detail string) MCPError {
	clone := *e
	if clone.detail != "" {
		clone.detail += "; " + detail
	} else {
		clone.detail = detail
	}
	return &clone
}

// Is matches any taxonomy error with the same code, so that
// errors.Is(err, UnknownCapability("tool", "")) matches every lookup miss.
func (e *taxonomyError) Is(target error) bool {
	var other *taxonomyError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.code == e.code
}

// MarshalJSON renders the error for structured logs
func (e *taxonomyError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code     int         `json:"code"`
		Kind     string      `json:"kind"`
		Message  string      `json:"message"`
		Detail   string      `json:"detail,omitempty"`
		Category Category    `json:"category"`
		Severity Severity    `json:"severity"`
		Data     interface{} `json:"data,omitempty"`
		Context  *Context    `json:"context,omitempty"`
		Cause    string      `json:"cause,omitempty"`
	}{
		Code:     e.code,
		Kind:     CodeName(e.code),
		Message:  e.message,
		Detail:   e.detail,
		Category: e.Category(),
		Severity: e.severity,
		Data:     e.data,
		Context:  e.context,
	}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCode reports whether err's chain holds an MCPError with code
func IsCode(err error, code int) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Code() == code
}

// WithOperation returns a copy of err annotated with the component and
// operation that raised it, preserving any request and session ids.
func WithOperation(err MCPError, component, operation string) MCPError {
	ctx := Context{Timestamp: time.Now()}
	if prev := err.Context(); prev != nil {
		ctx = *prev
	}
	ctx.Component = component
	ctx.Operation = operation
	return err.WithContext(&ctx)
}

func describe(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
