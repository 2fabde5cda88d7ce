package errors

import "fmt"

// ProtocolErrorData describes a malformed JSON-RPC frame
type ProtocolErrorData struct {
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ParseError reports a payload that is not valid JSON
func ParseError(cause error) MCPError {
	var data interface{}
	if cause != nil {
		data = &ProtocolErrorData{Reason: cause.Error()}
	}
	return newError(CodeParseError, "Parse error", cause, data)
}

// InvalidRequest reports valid JSON that is not a JSON-RPC request
func InvalidRequest(reason string) MCPError {
	return newError(CodeInvalidRequest, "Invalid Request", nil, &ProtocolErrorData{Reason: reason})
}

// MethodNotFound reports a request whose method has no handler
func MethodNotFound(method string) MCPError {
	return newError(CodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), nil, &ProtocolErrorData{Method: method})
}

// InternalError wraps an unexpected failure in the request path
func InternalError(operation string, cause error) MCPError {
	return newError(CodeInternalError, fmt.Sprintf("Internal error during %s", operation), cause, nil)
}

// IsTransportProtocol reports whether err is a malformed-frame error:
// a parse error, an invalid request or an unknown method.
func IsTransportProtocol(err error) bool {
	return IsCode(err, CodeParseError) || IsCode(err, CodeInvalidRequest) || IsCode(err, CodeMethodNotFound)
}
