package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
	"github.com/ajitpratap0/mcp-widget-server/pkg/transport"
)

const (
	// DefaultName is the server name announced during initialize
	DefaultName = "hello-custom-ux-server"

	// DefaultVersion is the server version announced during initialize
	DefaultVersion = "0.1.0"
)

// supportedRevisions lists the protocol revisions a client may request;
// anything else is answered with protocol.ProtocolRevision.
var supportedRevisions = []string{
	"2025-06-18",
	protocol.ProtocolRevision,
	"2024-11-05",
}

// Server binds the capability providers to sessions. It holds no per-session
// state, so one Server serves every session concurrently.
type Server struct {
	name         string
	version      string
	instructions string

	toolsProvider     ToolsProvider
	resourcesProvider ResourcesProvider

	invoker  *Invoker
	renderer *Renderer
	observer *observability.Observer
	logger   logging.Logger
}

// ServerOption defines options for creating a server
type ServerOption func(*Server)

// WithName sets the server name
func WithName(name string) ServerOption {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithInstructions sets the instructions returned from initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithToolsProvider sets the tools provider
func WithToolsProvider(provider ToolsProvider) ServerOption {
	return func(s *Server) {
		s.toolsProvider = provider
	}
}

// WithResourcesProvider sets the resources provider
func WithResourcesProvider(provider ResourcesProvider) ServerOption {
	return func(s *Server) {
		s.resourcesProvider = provider
	}
}

// WithRegistry serves both tools and resources from reg
func WithRegistry(reg *registry.Registry) ServerOption {
	return func(s *Server) {
		s.toolsProvider = reg
		s.resourcesProvider = reg
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver sets the metrics and tracing observer
func WithObserver(observer *observability.Observer) ServerOption {
	return func(s *Server) {
		s.observer = observer
	}
}

// New creates a new MCP server
func New(options ...ServerOption) *Server {
	s := &Server{
		name:    DefaultName,
		version: DefaultVersion,
		logger:  logging.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.observer == nil {
		s.observer = observability.NewObserver(nil, nil)
	}
	s.logger = s.logger.WithFields(logging.String("component", "server"))

	if s.toolsProvider != nil {
		s.invoker = NewInvoker(s.toolsProvider, s.observer, s.logger)
	}
	if s.resourcesProvider != nil {
		s.renderer = NewRenderer(s.resourcesProvider, s.observer, s.logger)
	}
	return s
}

// Observer returns the server's observer
func (s *Server) Observer() *observability.Observer {
	return s.observer
}

// Invoker returns the tool invoker, or nil without a tools provider
func (s *Server) Invoker() *Invoker {
	return s.invoker
}

// Renderer returns the resource renderer, or nil without a resources provider
func (s *Server) Renderer() *Renderer {
	return s.renderer
}

// Connect registers the server's methods on t and connects it. t must be
// freshly created; its handler tables are never shared.
func (s *Server) Connect(t transport.Transport) error {
	wrapped := s.observer.Wrap(t)
	handle := func(method string, handler transport.RequestHandler) {
		wrapped.RegisterRequestHandler(method, transport.RequestHandler(logging.LogMethod(s.logger, method, logging.MethodHandler(handler))))
	}

	handle(protocol.MethodInitialize, s.handleInitialize)
	handle(protocol.MethodPing, s.handlePing)
	wrapped.RegisterNotificationHandler(protocol.MethodInitialized, s.handleInitialized)

	if s.toolsProvider != nil {
		handle(protocol.MethodListTools, s.handleListTools)
		handle(protocol.MethodCallTool, s.handleCallTool)
	}
	if s.resourcesProvider != nil {
		handle(protocol.MethodListResources, s.handleListResources)
		handle(protocol.MethodReadResource, s.handleReadResource)
	}

	if err := wrapped.Connect(); err != nil {
		return mcperrors.WithOperation(mcperrors.InternalError("connect", err), "Server", "Connect")
	}
	return nil
}

// validateParams decodes params into target. Absent params leave target
// untouched when optional is true.
func validateParams(params json.RawMessage, target interface{}, method string, optional bool) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if optional {
			return nil
		}
		return mcperrors.InvalidParams(method, "params are required")
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return mcperrors.InvalidParams(method, err.Error())
	}
	return nil
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if err := validateParams(params, &initParams, protocol.MethodInitialize, true); err != nil {
		return nil, err
	}

	fields := []logging.Field{logging.String("protocol_version", initParams.ProtocolVersion)}
	if initParams.ClientInfo != nil {
		fields = append(fields,
			logging.String("client_name", initParams.ClientInfo.Name),
			logging.String("client_version", initParams.ClientInfo.Version),
		)
	}
	s.logger.WithContext(ctx).Info("Initializing connection with client", fields...)

	result := &protocol.InitializeResult{
		ProtocolVersion: negotiateRevision(initParams.ProtocolVersion),
		ServerInfo: protocol.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
		Instructions: s.instructions,
	}
	if s.toolsProvider != nil {
		result.Capabilities.Tools = &protocol.ListChangedCapability{}
	}
	if s.resourcesProvider != nil {
		result.Capabilities.Resources = &protocol.ListChangedCapability{}
	}
	return result, nil
}

func negotiateRevision(requested string) string {
	for _, revision := range supportedRevisions {
		if revision == requested {
			return revision
		}
	}
	return protocol.ProtocolRevision
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) error {
	s.logger.WithContext(ctx).Debug("Connection initialized")
	return nil
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleListTools(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &protocol.ListToolsResult{Tools: s.toolsProvider.ListTools()}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := validateParams(params, &callParams, protocol.MethodCallTool, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(callParams.Name) == "" {
		return nil, mcperrors.InvalidParams(protocol.MethodCallTool, "tool name is required")
	}

	result, err := s.invoker.Invoke(ctx, callParams.Name, callParams.Arguments)
	if err != nil {
		// Execution failures are reported in the result so the model can see them
		if mcpErr, ok := mcperrors.AsMCPError(err); ok && mcperrors.IsToolExecution(err) && ctx.Err() == nil {
			return protocol.ToolErrorResult(mcpErr.Message()), nil
		}
		return nil, err
	}
	return result, nil
}

func (s *Server) handleListResources(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &protocol.ListResourcesResult{Resources: s.resourcesProvider.ListResources()}, nil
}

func (s *Server) handleReadResource(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var readParams protocol.ReadResourceParams
	if err := validateParams(params, &readParams, protocol.MethodReadResource, false); err != nil {
		return nil, err
	}
	if readParams.URI == "" {
		return nil, mcperrors.InvalidParams(protocol.MethodReadResource, "uri is required")
	}

	contents, err := s.renderer.Render(ctx, readParams.URI)
	if err != nil {
		return nil, err
	}
	return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{*contents}}, nil
}
