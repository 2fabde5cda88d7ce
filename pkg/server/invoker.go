package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
)

// Invoker validates tool input and runs tool handlers
type Invoker struct {
	tools    ToolsProvider
	observer *observability.Observer
	logger   logging.Logger
}

// NewInvoker creates an invoker over tools
func NewInvoker(tools ToolsProvider, observer *observability.Observer, logger logging.Logger) *Invoker {
	if observer == nil {
		observer = observability.NewObserver(nil, nil)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Invoker{tools: tools, observer: observer, logger: logger}
}

// Invoke runs the named tool. Lookup and validation failures are returned
// as UnknownCapability and InvalidInput errors without calling the handler;
// handler errors and panics come back as ToolExecution errors.
func (inv *Invoker) Invoke(ctx context.Context, name string, rawInput json.RawMessage) (*protocol.CallToolResult, error) {
	tool, err := inv.tools.Tool(name)
	if err != nil {
		if mcperrors.IsUnknownCapability(err) {
			inv.logger.WithContext(ctx).Debug("Unknown tool requested", logging.String("tool", name))
		}
		return nil, err
	}

	args, err := decodeArguments(name, rawInput)
	if err != nil {
		return nil, err
	}
	if err := validateArguments(tool, args); err != nil {
		return nil, err
	}

	ctx, span := inv.observer.StartSpan(ctx, "tool.call", attribute.String("mcp.tool.name", name))
	start := time.Now()
	result, err := inv.execute(ctx, tool, args)
	duration := time.Since(start)

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
		inv.logger.WithContext(ctx).WithError(err).Warn("Tool execution failed",
			logging.String("tool", name),
			logging.Duration("duration", duration),
		)
	}
	inv.observer.Metrics().RecordToolCall(ctx, name, status, duration)
	observability.EndSpan(span, err)
	return result, err
}

func (inv *Invoker) execute(ctx context.Context, tool *registry.Tool, args map[string]interface{}) (result *protocol.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, mcperrors.ToolPanic(tool.Name, r)
		}
	}()

	result, err = tool.Handler(ctx, args)
	if err != nil {
		if mcperrors.IsToolExecution(err) {
			return nil, err
		}
		return nil, mcperrors.ToolExecution(tool.Name, err)
	}
	if result == nil {
		return nil, mcperrors.ToolExecution(tool.Name, errors.New("handler returned no result"))
	}
	if err := result.StructuredContent.Validate(); err != nil {
		return nil, mcperrors.ToolExecution(tool.Name, err)
	}
	return result, nil
}

// decodeArguments turns the raw arguments into an object. Absent or null
// arguments are an empty object.
func decodeArguments(tool string, raw json.RawMessage) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]interface{}{}, nil
	}
	if trimmed[0] != '{' {
		return nil, mcperrors.InvalidInput(tool, "arguments", "must be an object")
	}

	var args map[string]interface{}
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, mcperrors.InvalidInput(tool, "arguments", "is not valid JSON: "+err.Error())
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// validateArguments checks args against the tool's resolved schema. Fields
// are checked in name order so the reported field is deterministic.
func validateArguments(tool *registry.Tool, args map[string]interface{}) error {
	for _, field := range tool.Required() {
		if _, ok := args[field]; !ok {
			return mcperrors.MissingField(tool.Name, field)
		}
	}

	fields := make([]string, 0, len(args))
	for field := range args {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := args[field]
		if prop, ok := tool.Property(field); ok {
			if err := prop.Validate(value); err != nil {
				return mcperrors.InvalidInput(tool.Name, field, err.Error())
			}
			continue
		}
		if additional := tool.Additional(); additional != nil {
			if err := additional.Validate(value); err != nil {
				return mcperrors.InvalidInput(tool.Name, field, "is not allowed")
			}
		}
	}

	if err := tool.Schema().Validate(args); err != nil {
		return mcperrors.InvalidInput(tool.Name, "arguments", err.Error())
	}
	return nil
}
