// Package registry holds the tools and resources the server exposes.
//
// Capabilities are registered on a Builder during startup. Freeze turns the
// builder into an immutable Registry that is shared by every session; it has
// no locks because nothing can change it after the listener starts.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

// ErrFrozen is returned when registering on a builder that has been frozen
var ErrFrozen = errors.New("registry: builder is frozen")

// ToolHandler executes a tool with arguments that already passed schema
// validation. Absent optional fields are simply missing from args.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error)

// ResourceProducer builds the contents of a resource on each read
type ResourceProducer func(ctx context.Context, uri string) (*protocol.ResourceContents, error)

// ToolDefinition describes a tool and its handler
type ToolDefinition struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema
	Meta        protocol.Meta
	Handler     ToolHandler
}

// ResourceDefinition describes a resource and how to produce it
type ResourceDefinition struct {
	URI         string
	Name        string
	Title       string
	Description string
	MimeType    string
	Meta        protocol.Meta
	Produce     ResourceProducer
}

// Tool is a registered tool with its schemas resolved for validation
type Tool struct {
	ToolDefinition

	schema     *jsonschema.Resolved
	properties map[string]*jsonschema.Resolved
	additional *jsonschema.Resolved
	descriptor protocol.Tool
}

// Required returns the names of the required input fields
func (t *Tool) Required() []string {
	if t.InputSchema == nil {
		return nil
	}
	return t.InputSchema.Required
}

// Property returns the resolved schema of a declared input field
func (t *Tool) Property(name string) (*jsonschema.Resolved, bool) {
	p, ok := t.properties[name]
	return p, ok
}

// Additional returns the resolved schema applied to undeclared fields, or nil
// when undeclared fields are accepted without checks.
func (t *Tool) Additional() *jsonschema.Resolved {
	return t.additional
}

// Schema returns the resolved schema of the whole input object
func (t *Tool) Schema() *jsonschema.Resolved {
	return t.schema
}

// Descriptor returns the tools/list entry for the tool
func (t *Tool) Descriptor() protocol.Tool {
	return t.descriptor
}

// Resource is a registered resource
type Resource struct {
	ResourceDefinition

	descriptor protocol.Resource
}

// Descriptor returns the resources/list entry for the resource
func (r *Resource) Descriptor() protocol.Resource {
	return r.descriptor
}

// Builder collects registrations before the server starts
type Builder struct {
	tools     map[string]*Tool
	toolOrder []string
	resources map[string]*Resource
	resOrder  []string
	frozen    bool
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
	}
}

// RegisterTool adds a tool. The name must be unique and the input schema
// must resolve; an absent schema accepts any object.
func (b *Builder) RegisterTool(def ToolDefinition) error {
	if b.frozen {
		return ErrFrozen
	}
	if strings.TrimSpace(def.Name) == "" {
		return mcperrors.InvalidParams("RegisterTool", "tool name is required")
	}
	if def.Handler == nil {
		return mcperrors.InvalidParams("RegisterTool", fmt.Sprintf("tool %q has no handler", def.Name))
	}
	if _, exists := b.tools[def.Name]; exists {
		return mcperrors.DuplicateKey(mcperrors.KindTool, def.Name)
	}

	if def.InputSchema == nil {
		def.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	def.InputSchema = def.InputSchema.CloneSchemas()
	def.Meta = cloneMeta(def.Meta)

	tool, err := resolveTool(def)
	if err != nil {
		return err
	}

	b.tools[def.Name] = tool
	b.toolOrder = append(b.toolOrder, def.Name)
	return nil
}

// RegisterResource adds a resource. The URI must be unique.
func (b *Builder) RegisterResource(def ResourceDefinition) error {
	if b.frozen {
		return ErrFrozen
	}
	if strings.TrimSpace(def.URI) == "" {
		return mcperrors.InvalidParams("RegisterResource", "resource uri is required")
	}
	if def.Produce == nil {
		return mcperrors.InvalidParams("RegisterResource", fmt.Sprintf("resource %q has no producer", def.URI))
	}
	if _, exists := b.resources[def.URI]; exists {
		return mcperrors.DuplicateKey(mcperrors.KindResource, def.URI)
	}

	def.Meta = cloneMeta(def.Meta)
	b.resources[def.URI] = &Resource{
		ResourceDefinition: def,
		descriptor: protocol.Resource{
			URI:         def.URI,
			Name:        def.Name,
			Title:       def.Title,
			Description: def.Description,
			MimeType:    def.MimeType,
			Meta:        def.Meta,
		},
	}
	b.resOrder = append(b.resOrder, def.URI)
	return nil
}

// Freeze returns the immutable registry. Later registrations on the builder
// fail with ErrFrozen.
func (b *Builder) Freeze() *Registry {
	b.frozen = true

	r := &Registry{
		tools:     make(map[string]*Tool, len(b.tools)),
		resources: make(map[string]*Resource, len(b.resources)),
		toolList:  make([]protocol.Tool, 0, len(b.toolOrder)),
		resList:   make([]protocol.Resource, 0, len(b.resOrder)),
	}
	for _, name := range b.toolOrder {
		r.tools[name] = b.tools[name]
		r.toolList = append(r.toolList, b.tools[name].descriptor)
	}
	for _, uri := range b.resOrder {
		r.resources[uri] = b.resources[uri]
		r.resList = append(r.resList, b.resources[uri].descriptor)
	}
	return r
}

// Registry is the read-only capability table shared by all sessions
type Registry struct {
	tools     map[string]*Tool
	resources map[string]*Resource
	toolList  []protocol.Tool
	resList   []protocol.Resource
}

// Tool looks up a tool by name
func (r *Registry) Tool(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, mcperrors.UnknownCapability(mcperrors.KindTool, name)
	}
	return t, nil
}

// Resource looks up a resource by URI
func (r *Registry) Resource(uri string) (*Resource, error) {
	res, ok := r.resources[uri]
	if !ok {
		return nil, mcperrors.UnknownCapability(mcperrors.KindResource, uri)
	}
	return res, nil
}

// ListTools returns the tool descriptors in registration order
func (r *Registry) ListTools() []protocol.Tool {
	out := make([]protocol.Tool, len(r.toolList))
	copy(out, r.toolList)
	return out
}

// ListResources returns the resource descriptors in registration order
func (r *Registry) ListResources() []protocol.Resource {
	out := make([]protocol.Resource, len(r.resList))
	copy(out, r.resList)
	return out
}

func resolveTool(def ToolDefinition) (*Tool, error) {
	schema, err := def.InputSchema.Resolve(nil)
	if err != nil {
		return nil, mcperrors.InvalidParams("RegisterTool", fmt.Sprintf("tool %q: input schema: %v", def.Name, err))
	}

	tool := &Tool{
		ToolDefinition: def,
		schema:         schema,
		properties:     make(map[string]*jsonschema.Resolved, len(def.InputSchema.Properties)),
	}

	for name, prop := range def.InputSchema.Properties {
		resolved, err := prop.Resolve(nil)
		if err != nil {
			return nil, mcperrors.InvalidParams("RegisterTool", fmt.Sprintf("tool %q: property %q: %v", def.Name, name, err))
		}
		tool.properties[name] = resolved
	}

	if def.InputSchema.AdditionalProperties != nil {
		resolved, err := def.InputSchema.AdditionalProperties.Resolve(nil)
		if err != nil {
			return nil, mcperrors.InvalidParams("RegisterTool", fmt.Sprintf("tool %q: additionalProperties: %v", def.Name, err))
		}
		tool.additional = resolved
	}

	raw, err := json.Marshal(def.InputSchema)
	if err != nil {
		return nil, mcperrors.InvalidParams("RegisterTool", fmt.Sprintf("tool %q: encode schema: %v", def.Name, err))
	}

	tool.descriptor = protocol.Tool{
		Name:        def.Name,
		Title:       def.Title,
		Description: def.Description,
		InputSchema: raw,
		Meta:        def.Meta,
	}
	return tool, nil
}

func cloneMeta(meta protocol.Meta) protocol.Meta {
	if meta == nil {
		return nil
	}
	out := make(protocol.Meta, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
