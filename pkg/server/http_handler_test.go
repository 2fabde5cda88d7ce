package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
	"github.com/ajitpratap0/mcp-widget-server/pkg/transport"
)

type failingConnector struct{}

func (failingConnector) Connect(t transport.Transport) error {
	return errors.New("no handlers today")
}

type recordingConnector struct {
	inner    SessionConnector
	sessions []*transport.Session
}

func (c *recordingConnector) Connect(t transport.Transport) error {
	c.sessions = append(c.sessions, t.(*transport.Session))
	return c.inner.Connect(t)
}

func postMCP(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeHTTPResponse(t *testing.T, rec *httptest.ResponseRecorder) *protocol.Response {
	t.Helper()
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func TestHTTPHandlerServesRequest(t *testing.T) {
	f := newFixture(t)
	conn := &recordingConnector{inner: f.server}
	h := NewHTTPHandler(conn)

	rec := postMCP(t, h, callTool("echo", `{"text":"over http"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeHTTPResponse(t, rec)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "over http")

	// Every request got its own session and each was closed
	rec = postMCP(t, h, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, conn.sessions, 2)
	assert.NotEqual(t, conn.sessions[0].ID(), conn.sessions[1].ID())
	for _, s := range conn.sessions {
		assert.Equal(t, transport.StateClosed, s.State())
	}
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.server, WithMaxBodyBytes(64))

	tests := []struct {
		name   string
		body   string
		status int
		code   protocol.ErrorCode
	}{
		{"parse error", `{"jsonrpc":`, http.StatusBadRequest, protocol.ParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, http.StatusBadRequest, protocol.InvalidRequest},
		{"too large", `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 100) + `"}}`, http.StatusRequestEntityTooLarge, protocol.InvalidRequest},
		{"unknown method is in-band", `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`, http.StatusOK, protocol.MethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMCP(t, h, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeHTTPResponse(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestHTTPHandlerNotificationIsAccepted(t *testing.T) {
	h := NewHTTPHandler(newFixture(t).server)
	rec := postMCP(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHTTPHandlerRejectsGet(t *testing.T) {
	h := NewHTTPHandler(newFixture(t).server)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MCPPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	resp := decodeHTTPResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.ID)
}

func TestHTTPHandlerRejectsNonJSONContentType(t *testing.T) {
	h := NewHTTPHandler(newFixture(t).server)
	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHTTPHandlerConnectFailureIsInternalError(t *testing.T) {
	h := NewHTTPHandler(failingConnector{})
	rec := postMCP(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeHTTPResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.Equal(t, internalErrorMessage, resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "no handlers today")
}

func TestHTTPHandlerSessionMetrics(t *testing.T) {
	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{DisableRuntimeCollectors: true})
	require.NoError(t, err)
	h := NewHTTPHandler(newFixture(t).server, WithSessionMetrics(metrics))

	postMCP(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	postMCP(t, h, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Contains(t, rec.Body.String(), `mcp_sessions_total{outcome="completed"} 2`)
	assert.Contains(t, rec.Body.String(), `mcp_sessions_active 0`)
}

func TestHTTPHandlerClientDisconnectClosesSession(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool

	b := registry.NewBuilder()
	require.NoError(t, b.RegisterTool(registry.ToolDefinition{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil, ctx.Err()
		},
	}))

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{DisableRuntimeCollectors: true})
	require.NoError(t, err)
	conn := &recordingConnector{inner: New(WithRegistry(b.Freeze()))}
	h := NewHTTPHandler(conn, WithSessionMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(callTool("slow", `{}`))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client went away")
	}

	assert.True(t, sawCancel.Load())
	require.Len(t, conn.sessions, 1)
	assert.Equal(t, transport.StateClosed, conn.sessions[0].State())
	assert.Empty(t, rec.Body.String(), "no frame is written for a closed session")

	metricsRec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Contains(t, metricsRec.Body.String(), `mcp_sessions_total{outcome="client_closed"} 1`)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{DisableRuntimeCollectors: true})
	require.NoError(t, err)
	observer := observability.NewObserver(nil, metrics)
	f := newFixture(t, WithObserver(observer))

	router := NewRouter(NewHTTPHandler(f.server), observer, nil, RouterConfig{MetricsEnabled: true})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + HealthPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Post(srv.URL+MCPPath, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + MetricsPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `route="/mcp"`)
	assert.Contains(t, string(body), `mcp_request_total{method="ping",status="success"} 1`)
}

func TestRouterWithoutMetrics(t *testing.T) {
	router := NewRouter(NewHTTPHandler(newFixture(t).server), nil, nil, RouterConfig{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterCORS(t *testing.T) {
	router := NewRouter(NewHTTPHandler(newFixture(t).server), nil, nil, RouterConfig{
		AllowedOrigins: []string{"https://chatgpt.com"},
	})

	preflight := httptest.NewRequest(http.MethodOptions, MCPPath, nil)
	preflight.Header.Set("Origin", "https://chatgpt.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://chatgpt.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	denied := httptest.NewRequest(http.MethodOptions, MCPPath, nil)
	denied.Header.Set("Origin", "https://evil.example")
	denied.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, denied)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	wildcard := NewRouter(NewHTTPHandler(newFixture(t).server), nil, nil, RouterConfig{AllowedOrigins: []string{"*"}})
	req := httptest.NewRequest(http.MethodGet, HealthPath, nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec = httptest.NewRecorder()
	wildcard.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterRateLimit(t *testing.T) {
	router := NewRouter(NewHTTPHandler(newFixture(t).server), nil, nil, RouterConfig{
		RateLimitRPS:   0.001,
		RateLimitBurst: 1,
	})

	rec := postMCP(t, router, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postMCP(t, router, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health is never limited
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
