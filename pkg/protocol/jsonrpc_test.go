package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("req-1", MethodCallTool, nil)
	if err != nil {
		t.Fatalf("Expected NewRequest with nil params to succeed, got error: %v", err)
	}

	if req.JSONRPC != JSONRPCVersion {
		t.Errorf("Expected JSONRPC version to be %q, got %q", JSONRPCVersion, req.JSONRPC)
	}
	if req.IsNotification() {
		t.Error("Expected request to carry an id")
	}
	if len(req.Params) != 0 {
		t.Errorf("Expected Params to be empty, got %s", string(req.Params))
	}

	req, err = NewRequest(2, MethodCallTool, CallToolParams{Name: "hello_world"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"hello_world"}`, string(req.Params))

	_, err = NewRequest(3, MethodCallTool, make(chan int))
	assert.Error(t, err)
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification(MethodInitialized, nil)
	require.NoError(t, err)
	assert.True(t, n.IsNotification())

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name         string
		payload      string
		wantCode     ErrorCode
		notification bool
		wantID       interface{}
	}{
		{
			name:    "numeric id",
			payload: `{"jsonrpc":"2.0","id":7,"method":"ping"}`,
			wantID:  json.Number("7"),
		},
		{
			name:    "string id",
			payload: `{"jsonrpc":"2.0","id":"abc","method":"ping"}`,
			wantID:  "abc",
		},
		{
			name:    "null id is a request",
			payload: `{"jsonrpc":"2.0","id":null,"method":"ping"}`,
			wantID:  nil,
		},
		{
			name:         "notification",
			payload:      `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			notification: true,
		},
		{
			name:     "invalid json",
			payload:  `{"jsonrpc":`,
			wantCode: ParseError,
		},
		{
			name:     "empty body",
			payload:  `   `,
			wantCode: ParseError,
		},
		{
			name:     "batch",
			payload:  `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`,
			wantCode: InvalidRequest,
		},
		{
			name:     "scalar",
			payload:  `42`,
			wantCode: InvalidRequest,
		},
		{
			name:     "wrong version",
			payload:  `{"jsonrpc":"1.0","id":1,"method":"ping"}`,
			wantCode: InvalidRequest,
		},
		{
			name:     "missing method",
			payload:  `{"jsonrpc":"2.0","id":1}`,
			wantCode: InvalidRequest,
		},
		{
			name:     "object id",
			payload:  `{"jsonrpc":"2.0","id":{"x":1},"method":"ping"}`,
			wantCode: InvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.payload))
			if tt.wantCode != 0 {
				var decodeErr *DecodeError
				require.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
				assert.Equal(t, tt.wantCode, decodeErr.Code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.notification, req.IsNotification())
			if !tt.notification {
				assert.Equal(t, tt.wantID, req.ID)
			}
		})
	}
}

func TestLargeNumericIDRoundTrips(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":9007199254740993,"method":"ping"}`))
	require.NoError(t, err)

	resp, err := NewResponse(req.ID, EmptyResult{})
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":9007199254740993,"result":{}}`, string(data))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(nil, ParseError, "Parse error", nil)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, string(data))
}

func TestIDKey(t *testing.T) {
	assert.Equal(t, "s:1", IDKey("1"))
	assert.Equal(t, "n:1", IDKey(json.Number("1")))
	assert.NotEqual(t, IDKey("1"), IDKey(json.Number("1")))
	assert.Equal(t, "", IDKey(nil))
}

func TestCallToolResultShape(t *testing.T) {
	doc := NewDocument().Set("greeting", "Hello, friend!")
	result := &CallToolResult{
		Content:           []Content{TextContent("Hello, friend!")},
		StructuredContent: doc,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Hello, friend!"}],"structuredContent":{"greeting":"Hello, friend!"}}`, string(data))

	data, err = json.Marshal(ToolErrorResult("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"boom"}],"isError":true}`, string(data))
}

func TestReadResourceResultShape(t *testing.T) {
	result := &ReadResourceResult{Contents: []ResourceContents{{
		URI:      "ui://widget/hello-world.html",
		MimeType: "text/html+skybridge",
		Text:     "<div></div>",
		Meta:     Meta{"openai/widgetPrefersBorder": true},
	}}}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contents":[{"uri":"ui://widget/hello-world.html","mimeType":"text/html+skybridge","text":"<div></div>","_meta":{"openai/widgetPrefersBorder":true}}]}`, string(data))
}
