package widget

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
)

type staticBundle struct {
	source string
	err    error
}

func (b staticBundle) Load(ctx context.Context) (string, error) {
	return b.source, b.err
}

func writeBundle(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "component.js")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMonotonicClockNeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, 1, 2, 3, 4, 5, 678_900_000, time.UTC)
	readings := []time.Time{base, base.Add(-time.Second), base.Add(2 * time.Millisecond)}
	i := 0
	clock := NewMonotonicClock(func() time.Time {
		t := readings[i]
		i++
		return t
	})

	first := clock.Now()
	second := clock.Now()
	third := clock.Now()

	assert.Equal(t, "2025-01-02T03:04:05.678Z", FormatTimestamp(first))
	assert.Equal(t, first, second)
	assert.True(t, third.After(second))
}

func TestGreeting(t *testing.T) {
	assert.Equal(t, "Hello, friend!", Greeting(""))
	assert.Equal(t, "Hello, friend!", Greeting("   "))
	assert.Equal(t, "Hello, Ada!", Greeting("  Ada "))
}

func TestHelloToolResult(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hello := NewHello(staticBundle{}, NewMonotonicClock(func() time.Time { return fixed }))

	def := hello.Tool()
	result, err := def.Handler(context.Background(), map[string]interface{}{"name": "  Ada "})
	require.NoError(t, err)

	require.Len(t, result.Content, 1)
	assert.Equal(t, "Hello, Ada! The custom UI component contains additional details.", result.Content[0].Text)

	data, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	assert.Equal(t,
		`{"greeting":"Hello, Ada!","instructions":"Interact with the widget to explore how custom UX works.","generatedAt":"2025-06-01T12:00:00.000Z"}`,
		string(data))

	result, err = def.Handler(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	greeting, _ := result.StructuredContent.Get("greeting")
	assert.Equal(t, "Hello, friend!", greeting)
}

func TestHelloRegistersBothCapabilities(t *testing.T) {
	b := registry.NewBuilder()
	require.NoError(t, NewHello(staticBundle{source: "x"}, nil).Register(b))
	reg := b.Freeze()

	tools := reg.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, ToolName, tools[0].Name)
	assert.Equal(t, WidgetURI, tools[0].Meta["openai/outputTemplate"])
	assert.JSONEq(t, `{"type":"object","properties":{"name":{"type":"string","description":"Optional name to greet"}}}`, string(tools[0].InputSchema))

	resources := reg.ListResources()
	require.Len(t, resources, 1)
	assert.Equal(t, "hello-widget", resources[0].Name)
	assert.Equal(t, WidgetMimeType, resources[0].MimeType)
}

func TestHelloResourceMarkup(t *testing.T) {
	hello := NewHello(staticBundle{source: "console.log('hi');"}, nil)
	contents, err := hello.Resource().Produce(context.Background(), WidgetURI)
	require.NoError(t, err)

	assert.Equal(t, WidgetURI, contents.URI)
	assert.Equal(t, WidgetMimeType, contents.MimeType)
	assert.Equal(t, "<div id=\"hello-root\"></div>\n<script type=\"module\">\nconsole.log('hi');\n</script>", contents.Text)
	assert.Equal(t, true, contents.Meta["openai/widgetPrefersBorder"])

	failing := NewHello(staticBundle{err: errors.New("gone")}, nil)
	_, err = failing.Resource().Produce(context.Background(), WidgetURI)
	assert.Error(t, err)
}

func TestBundleLoaderRevalidates(t *testing.T) {
	dir := t.TempDir()
	path := writeBundle(t, dir, "v1")

	loader, err := NewBundleLoader(BundleConfig{Path: path})
	require.NoError(t, err)
	defer loader.Close()

	src, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", src)
	loader.Wait()

	src, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", src)

	// A rebuild changes size and mtime
	require.NoError(t, os.WriteFile(path, []byte("version two"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	src, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "version two", src)
}

func TestBundleLoaderMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.js")
	loader, err := NewBundleLoader(BundleConfig{Path: path})
	require.NoError(t, err)
	defer loader.Close()

	err = loader.Check(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBundleMissing)
	assert.True(t, strings.Contains(MissingBundleMessage(path), "npm run build"))
}

func TestBundleLoaderHonorsCancelledContext(t *testing.T) {
	loader, err := NewBundleLoader(BundleConfig{Path: writeBundle(t, t.TempDir(), "x")})
	require.NoError(t, err)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
