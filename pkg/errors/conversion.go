package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

// ToJSONRPC converts any error to a JSON-RPC error object. Errors outside the
// taxonomy become internal errors whose text stays out of the wire frame.
func ToJSONRPC(err error) *protocol.Error {
	if err == nil {
		return nil
	}
	mcpErr := ConvertStandardError(err)
	return &protocol.Error{
		Code:    protocol.ErrorCode(mcpErr.Code()),
		Message: mcpErr.Message(),
		Data:    mcpErr.Data(),
	}
}

// ToJSONRPCResponse builds the error response for requestID
func ToJSONRPCResponse(err error, requestID interface{}) *protocol.Response {
	return &protocol.Response{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             requestID,
		Error:          ToJSONRPC(err),
	}
}

// ConvertStandardError maps plain Go errors into the taxonomy
func ConvertStandardError(err error) MCPError {
	if err == nil {
		return nil
	}
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr
	}

	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return newError(CodeOperationCancelled, "Request cancelled", err, nil)
	case isJSONSyntax(err):
		return ParseError(err)
	case isJSONType(err):
		return newError(CodeInvalidParams, "Invalid parameter type", err, nil)
	default:
		return newError(CodeInternalError, "Internal error", err, nil)
	}
}

func isJSONSyntax(err error) bool {
	var syntaxErr *json.SyntaxError
	return stderrors.As(err, &syntaxErr)
}

func isJSONType(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return stderrors.As(err, &typeErr)
}
