package errors

import "fmt"

// Capability kinds used in error data
const (
	KindTool     = "tool"
	KindResource = "resource"
)

// CapabilityErrorData identifies the tool or resource an error is about
type CapabilityErrorData struct {
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Reason    string `json:"reason,omitempty"`
	Recovered bool   `json:"recovered,omitempty"`
}

// DuplicateKey reports a second registration under an existing key
func DuplicateKey(kind, key string) MCPError {
	return newError(CodeDuplicateKey,
		fmt.Sprintf("%s '%s' is already registered", kind, key),
		nil, &CapabilityErrorData{Kind: kind, Key: key})
}

// UnknownCapability reports a lookup of an unregistered tool or resource
func UnknownCapability(kind, key string) MCPError {
	message := fmt.Sprintf("Unknown %s: %s", kind, key)
	if kind == KindResource {
		message = fmt.Sprintf("Resource not found: %s", key)
	}
	return newError(CodeUnknownCapability, message, nil, &CapabilityErrorData{Kind: kind, Key: key})
}

// ToolExecution wraps a failure raised by a tool handler
func ToolExecution(tool string, cause error) MCPError {
	reason := describe(cause)
	return newError(CodeToolExecution,
		fmt.Sprintf("Tool '%s' failed: %s", tool, reason),
		cause, &CapabilityErrorData{Kind: KindTool, Key: tool, Reason: reason})
}

// ToolPanic converts a value recovered from a tool handler
func ToolPanic(tool string, recovered interface{}) MCPError {
	cause := fmt.Errorf("panic: %v", recovered)
	err := newError(CodeToolExecution,
		fmt.Sprintf("Tool '%s' failed: %s", tool, cause),
		cause, &CapabilityErrorData{Kind: KindTool, Key: tool, Reason: cause.Error(), Recovered: true})
	err.severity = SeverityCritical
	return err
}

// ResourceUnavailable wraps a failure raised while producing resource contents
func ResourceUnavailable(uri string, cause error) MCPError {
	reason := describe(cause)
	return newError(CodeResourceUnavailable,
		fmt.Sprintf("Resource '%s' is unavailable: %s", uri, reason),
		cause, &CapabilityErrorData{Kind: KindResource, Key: uri, Reason: reason})
}

// TunnelEstablish wraps a failure to open the public tunnel
func TunnelEstablish(provider string, cause error) MCPError {
	return newError(CodeTunnelEstablish, fmt.Sprintf("Failed to establish %s tunnel", provider), cause, nil)
}

// OperationCancelled reports a request cancelled before completion
func OperationCancelled(operation string) MCPError {
	return newError(CodeOperationCancelled, fmt.Sprintf("Operation '%s' was cancelled", operation), nil, nil)
}

func IsDuplicateKey(err error) bool        { return IsCode(err, CodeDuplicateKey) }
func IsUnknownCapability(err error) bool   { return IsCode(err, CodeUnknownCapability) }
func IsToolExecution(err error) bool       { return IsCode(err, CodeToolExecution) }
func IsResourceUnavailable(err error) bool { return IsCode(err, CodeResourceUnavailable) }
func IsTunnelEstablish(err error) bool     { return IsCode(err, CodeTunnelEstablish) }
