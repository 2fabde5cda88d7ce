package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

func echoHandler(_ context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
	return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("ok")}}, nil
}

func produce(_ context.Context, uri string) (*protocol.ResourceContents, error) {
	return &protocol.ResourceContents{URI: uri, Text: "x"}, nil
}

func nameSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string"},
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterTool(ToolDefinition{Name: "hello_world", Title: "Hello", InputSchema: nameSchema(), Handler: echoHandler}))
	require.NoError(t, b.RegisterResource(ResourceDefinition{URI: "ui://widget/hello-world.html", Name: "hello-widget", MimeType: "text/html+skybridge", Produce: produce}))

	reg := b.Freeze()

	tool, err := reg.Tool("hello_world")
	require.NoError(t, err)
	assert.Equal(t, "Hello", tool.Title)
	_, ok := tool.Property("name")
	assert.True(t, ok)

	res, err := reg.Resource("ui://widget/hello-world.html")
	require.NoError(t, err)
	assert.Equal(t, "hello-widget", res.Name)
}

func TestUnknownKeys(t *testing.T) {
	reg := NewBuilder().Freeze()

	_, err := reg.Tool("missing")
	assert.True(t, mcperrors.IsUnknownCapability(err))

	_, err = reg.Resource("ui://widget/missing.html")
	assert.True(t, mcperrors.IsUnknownCapability(err))
}

func TestDuplicateKeys(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterTool(ToolDefinition{Name: "t", Handler: echoHandler}))
	err := b.RegisterTool(ToolDefinition{Name: "t", Handler: echoHandler})
	assert.True(t, mcperrors.IsDuplicateKey(err))

	require.NoError(t, b.RegisterResource(ResourceDefinition{URI: "ui://a", Produce: produce}))
	err = b.RegisterResource(ResourceDefinition{URI: "ui://a", Produce: produce})
	assert.True(t, mcperrors.IsDuplicateKey(err))
}

func TestRegisterRejectsIncompleteDefinitions(t *testing.T) {
	b := NewBuilder()
	assert.Error(t, b.RegisterTool(ToolDefinition{Name: " ", Handler: echoHandler}))
	assert.Error(t, b.RegisterTool(ToolDefinition{Name: "no_handler"}))
	assert.Error(t, b.RegisterResource(ResourceDefinition{URI: "", Produce: produce}))
	assert.Error(t, b.RegisterResource(ResourceDefinition{URI: "ui://x"}))
}

func TestFreezeRejectsLaterRegistration(t *testing.T) {
	b := NewBuilder()
	reg := b.Freeze()

	assert.ErrorIs(t, b.RegisterTool(ToolDefinition{Name: "late", Handler: echoHandler}), ErrFrozen)
	assert.ErrorIs(t, b.RegisterResource(ResourceDefinition{URI: "ui://late", Produce: produce}), ErrFrozen)
	assert.Empty(t, reg.ListTools())
}

func TestRegistryIsIsolatedFromCaller(t *testing.T) {
	schema := nameSchema()
	meta := protocol.Meta{"openai/outputTemplate": "ui://widget/hello-world.html"}

	b := NewBuilder()
	require.NoError(t, b.RegisterTool(ToolDefinition{Name: "t", InputSchema: schema, Meta: meta, Handler: echoHandler}))
	reg := b.Freeze()

	schema.Properties["injected"] = &jsonschema.Schema{Type: "number"}
	meta["openai/outputTemplate"] = "changed"

	tool, err := reg.Tool("t")
	require.NoError(t, err)
	_, ok := tool.Property("injected")
	assert.False(t, ok)
	assert.Equal(t, "ui://widget/hello-world.html", tool.Descriptor().Meta["openai/outputTemplate"])
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	b := NewBuilder()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, b.RegisterTool(ToolDefinition{Name: name, Handler: echoHandler}))
	}
	reg := b.Freeze()

	var names []string
	for _, tool := range reg.ListTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestDescriptorCarriesSchema(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterTool(ToolDefinition{Name: "t", InputSchema: nameSchema(), Handler: echoHandler}))
	reg := b.Freeze()

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(reg.ListTools()[0].InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "name")
}

func TestMissingSchemaAcceptsObjects(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.RegisterTool(ToolDefinition{Name: "t", Handler: echoHandler}))
	reg := b.Freeze()

	tool, err := reg.Tool("t")
	require.NoError(t, err)
	assert.NoError(t, tool.Schema().Validate(map[string]interface{}{"anything": 1.0}))
	assert.Nil(t, tool.Additional())
}
