package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// MCP-specific error codes
const (
	// ResourceNotFound indicates a requested tool or resource was not found
	ResourceNotFound ErrorCode = -32002
	// OperationCancelled indicates an operation was cancelled
	OperationCancelled ErrorCode = -32003
)

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request or, when it carries no id, a notification
type Request struct {
	JSONRPCMessage
	ID     interface{}     `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	hasID bool
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
		hasID:          true,
	}, nil
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// IsNotification reports whether the message omitted its id member
func (r *Request) IsNotification() bool {
	return !r.hasID
}

// IDKey returns a stable string form of the request id for correlation tables
func (r *Request) IDKey() string {
	return IDKey(r.ID)
}

// MarshalJSON keeps "id": null on requests while omitting id on notifications
func (r Request) MarshalJSON() ([]byte, error) {
	if !r.hasID {
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params,omitempty"`
		}{r.JSONRPC, r.Method, r.Params})
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{r.JSONRPC, r.ID, r.Method, r.Params})
}

// UnmarshalJSON records whether the id member was present and keeps numeric
// ids as json.Number so they echo back without precision loss.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.JSONRPC = raw.JSONRPC
	r.Method = raw.Method
	r.Params = raw.Params
	r.ID = nil
	r.hasID = raw.ID != nil

	if r.hasID && !bytes.Equal(raw.ID, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw.ID))
		dec.UseNumber()
		if err := dec.Decode(&r.ID); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the structural rules of a JSON-RPC 2.0 request object
func (r *Request) Validate() error {
	if r.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("jsonrpc must be %q", JSONRPCVersion)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	switch r.ID.(type) {
	case nil, string, json.Number, float64, int, int64:
	default:
		return fmt.Errorf("id must be a string, number or null")
	}
	return nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	resultJSON := json.RawMessage("{}")
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) *Response {
	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error returns a string representation of the error object
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// DecodeError describes why a payload could not be decoded into a Request
type DecodeError struct {
	Code   ErrorCode
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error %d: %s", e.Code, e.Reason)
}

// DecodeRequest parses a single JSON-RPC message. Batches (JSON arrays) are
// rejected as invalid requests.
func DecodeRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Code: ParseError, Reason: "empty body"}
	}
	if !json.Valid(trimmed) {
		return nil, &DecodeError{Code: ParseError, Reason: "invalid JSON"}
	}
	if trimmed[0] == '[' {
		return nil, &DecodeError{Code: InvalidRequest, Reason: "batch requests are not supported"}
	}
	if trimmed[0] != '{' {
		return nil, &DecodeError{Code: InvalidRequest, Reason: "message must be a JSON object"}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, &DecodeError{Code: InvalidRequest, Reason: err.Error()}
	}
	if err := req.Validate(); err != nil {
		return &req, &DecodeError{Code: InvalidRequest, Reason: err.Error()}
	}
	return &req, nil
}

// IDKey returns a stable string form of a request id
func IDKey(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return "s:" + v
	case json.Number:
		return "n:" + v.String()
	default:
		return fmt.Sprintf("n:%v", v)
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return paramsJSON, nil
}
