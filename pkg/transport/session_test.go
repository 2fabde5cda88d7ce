package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-widget-server/internal/testutil"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

func connectedSession(t *testing.T, register func(s *Session)) *Session {
	t.Helper()
	s := NewSession("test-session")
	if register != nil {
		register(s)
	}
	require.NoError(t, s.Connect())
	return s
}

func TestSessionStateMachine(t *testing.T) {
	s := NewSession("s1")
	assert.Equal(t, StateCreated, s.State())

	_, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Connect())
	assert.Equal(t, StateConnected, s.State())
	assert.ErrorIs(t, s.Connect(), ErrAlreadyConnected)

	_, err = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Equal(t, StateHandling, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Connect(), ErrSessionClosed)

	_, err = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionDispatchesRequest(t *testing.T) {
	s := connectedSession(t, func(s *Session) {
		s.RegisterRequestHandler("ping", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return protocol.EmptyResult{}, nil
		})
	})
	defer s.Close()

	resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":"a","method":"ping"}`))
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"a","result":{}}`, string(data))
}

func TestSessionProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    protocol.ErrorCode
		id      interface{}
	}{
		{"parse error", `{"jsonrpc":`, protocol.ParseError, nil},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, protocol.InvalidRequest, nil},
		{"wrong version keeps id", `{"jsonrpc":"1.0","id":"x","method":"ping"}`, protocol.InvalidRequest, "x"},
		{"unknown method", `{"jsonrpc":"2.0","id":3,"method":"prompts/list"}`, protocol.MethodNotFound, json.Number("3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connectedSession(t, nil)
			defer s.Close()

			resp, err := s.Handle(context.Background(), []byte(tt.payload))
			require.NoError(t, err)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.id, resp.ID)
		})
	}
}

func TestSessionHandlerErrorsBecomeResponses(t *testing.T) {
	s := connectedSession(t, func(s *Session) {
		s.RegisterRequestHandler("boom", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			panic("kaboom")
		})
		s.RegisterRequestHandler("fail", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return nil, errors.New("secret internal detail")
		})
	})
	defer s.Close()

	resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"boom"}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)

	resp, err = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"fail"}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "secret")
}

func TestSessionNotificationHasNoResponse(t *testing.T) {
	var called atomic.Bool
	s := connectedSession(t, func(s *Session) {
		s.RegisterNotificationHandler(protocol.MethodInitialized, func(ctx context.Context, params json.RawMessage) error {
			called.Store(true)
			return nil
		})
	})
	defer s.Close()

	resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.True(t, called.Load())

	resp, err = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/unknown"}`))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := connectedSession(t, nil)

	var hooks atomic.Int32
	s.OnClose(func() { hooks.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Close())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, StateClosed, s.State())

	// Hooks added after close run immediately
	s.OnClose(func() { hooks.Add(1) })
	assert.Equal(t, int32(2), hooks.Load())
}

func TestSessionCloseDuringHandling(t *testing.T) {
	started := make(chan struct{})
	s := connectedSession(t, func(s *Session) {
		s.RegisterRequestHandler("slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})

	done := make(chan struct{})
	var resp *protocol.Response
	var err error
	go func() {
		defer close(done)
		resp, err = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
	}()

	<-started
	require.NoError(t, s.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not cancelled by session close")
	}
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Nil(t, resp)
}

func TestSessionCallerCancelClosesWithoutResponse(t *testing.T) {
	tests := []struct {
		name    string
		handler RequestHandler
	}{
		{"handler returns ctx error", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{"handler ignores cancellation", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			<-ctx.Done()
			return "finished anyway", nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hooks atomic.Int32
			s := connectedSession(t, func(s *Session) {
				s.RegisterRequestHandler("slow", tt.handler)
			})
			s.OnClose(func() { hooks.Add(1) })

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			resp, err := s.Handle(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
			assert.ErrorIs(t, err, ErrSessionClosed)
			assert.Nil(t, resp)
			assert.Equal(t, StateClosed, s.State())

			require.NoError(t, s.Close())
			assert.Equal(t, int32(1), hooks.Load())
		})
	}
}

func TestSessionCancelledNotification(t *testing.T) {
	started := make(chan struct{})
	s := connectedSession(t, func(s *Session) {
		s.RegisterRequestHandler("slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})
	defer s.Close()

	done := make(chan *protocol.Response, 1)
	go func() {
		resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":9007199254740993,"method":"slow"}`))
		assert.NoError(t, err)
		done <- resp
	}()

	<-started
	assert.Equal(t, 1, s.InFlight())

	resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":9007199254740993,"reason":"user aborted"}}`))
	require.NoError(t, err)
	assert.Nil(t, resp)

	select {
	case resp := <-done:
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.OperationCancelled, resp.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not cancelled")
	}
	assert.Equal(t, 0, s.InFlight())
}

func TestSessionRequestContextCarriesSessionID(t *testing.T) {
	var seen string
	s := connectedSession(t, func(s *Session) {
		s.RegisterRequestHandler("ping", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			seen = logging.SessionIDFromContext(ctx)
			return nil, nil
		})
	})
	defer s.Close()

	_, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "test-session", seen)
}

func TestSessionRegistrationAfterConnectIgnored(t *testing.T) {
	s := connectedSession(t, nil)
	defer s.Close()

	s.RegisterRequestHandler("late", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "late", nil
	})

	resp, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"late"}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}

func TestSessionsDoNotLeakGoroutines(t *testing.T) {
	detector := testutil.NewGoroutineLeakDetector(t)
	detector.Start()

	for i := 0; i < 50; i++ {
		s := connectedSession(t, func(s *Session) {
			s.RegisterRequestHandler("ping", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				return protocol.EmptyResult{}, nil
			})
		})
		_, err := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	detector.Check()
}
