// Package widget implements the hello world widget: the tool that asks the
// host to render it and the resource that carries its markup.
package widget

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
)

const (
	// ToolName is the name clients call
	ToolName = "hello_world"

	// WidgetURI identifies the widget markup resource
	WidgetURI = "ui://widget/hello-world.html"

	// WidgetMimeType tells the host to render the markup in its sandbox
	WidgetMimeType = "text/html+skybridge"

	// DefaultName is greeted when no usable name is given
	DefaultName = "friend"

	instructions = "Interact with the widget to explore how custom UX works."
)

// Hello builds the widget's capability definitions
type Hello struct {
	bundle BundleSource
	clock  Clock
}

// NewHello creates the widget. A nil clock uses a MonotonicClock.
func NewHello(bundle BundleSource, clock Clock) *Hello {
	if clock == nil {
		clock = NewMonotonicClock(nil)
	}
	return &Hello{bundle: bundle, clock: clock}
}

// Register adds the widget's resource and tool to b
func (h *Hello) Register(b *registry.Builder) error {
	if err := b.RegisterResource(h.Resource()); err != nil {
		return err
	}
	return b.RegisterTool(h.Tool())
}

// Greeting normalizes name and greets it
func Greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return fmt.Sprintf("Hello, %s!", name)
}

// Tool returns the hello_world tool definition
func (h *Hello) Tool() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        ToolName,
		Title:       "Render Hello World UI",
		Description: "Shows the hello world custom UX component.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Optional name to greet"},
			},
		},
		Meta: protocol.Meta{
			"openai/outputTemplate":          WidgetURI,
			"openai/toolInvocation/invoking": "Preparing the hello world widget…",
			"openai/toolInvocation/invoked":  "Displayed the hello world widget.",
		},
		Handler: h.call,
	}
}

func (h *Hello) call(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
	name, _ := args["name"].(string)
	greeting := Greeting(name)

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent(greeting + " The custom UI component contains additional details."),
		},
		StructuredContent: protocol.NewDocument().
			Set("greeting", greeting).
			Set("instructions", instructions).
			Set("generatedAt", FormatTimestamp(h.clock.Now())),
	}, nil
}

// Resource returns the widget markup resource definition
func (h *Hello) Resource() registry.ResourceDefinition {
	return registry.ResourceDefinition{
		URI:         WidgetURI,
		Name:        "hello-widget",
		Title:       "Hello World Widget",
		Description: "Renders the hello world custom UX component.",
		MimeType:    WidgetMimeType,
		Meta:        widgetMeta(),
		Produce:     h.produce,
	}
}

func (h *Hello) produce(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	source, err := h.bundle.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &protocol.ResourceContents{
		URI:      uri,
		MimeType: WidgetMimeType,
		Text:     Markup(source),
		Meta:     widgetMeta(),
	}, nil
}

// Markup embeds the component source in the widget's host markup
func Markup(source string) string {
	return "<div id=\"hello-root\"></div>\n<script type=\"module\">\n" + source + "\n</script>"
}

func widgetMeta() protocol.Meta {
	return protocol.Meta{
		"openai/widgetPrefersBorder": true,
		"openai/widgetDescription":   "Hello world greeting rendered with the Apps SDK custom UX component.",
	}
}
