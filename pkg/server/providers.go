package server

import (
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
)

// ToolsProvider supplies the tools the server exposes
type ToolsProvider interface {
	// ListTools returns the tool descriptors in a stable order
	ListTools() []protocol.Tool

	// Tool looks up a tool, failing with an UnknownCapability error
	Tool(name string) (*registry.Tool, error)
}

// ResourcesProvider supplies the resources the server exposes
type ResourcesProvider interface {
	// ListResources returns the resource descriptors in a stable order
	ListResources() []protocol.Resource

	// Resource looks up a resource, failing with an UnknownCapability error
	Resource(uri string) (*registry.Resource, error)
}

var (
	_ ToolsProvider     = (*registry.Registry)(nil)
	_ ResourcesProvider = (*registry.Registry)(nil)
)
