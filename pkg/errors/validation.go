package errors

import "fmt"

// ValidationErrorData describes rejected input
type ValidationErrorData struct {
	Tool   string `json:"tool,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// InvalidInput reports tool input that violates the declared schema. field
// names the offending argument, or "arguments" when the whole payload is
// rejected.
func InvalidInput(tool, field, reason string) MCPError {
	return newError(CodeInvalidParams,
		fmt.Sprintf("Invalid input for tool '%s': field '%s' %s", tool, field, reason),
		nil, &ValidationErrorData{Tool: tool, Field: field, Reason: reason})
}

// MissingField reports an absent required field
func MissingField(tool, field string) MCPError {
	return InvalidInput(tool, field, "is required")
}

// InvalidParams reports malformed method parameters
func InvalidParams(method, reason string) MCPError {
	return newError(CodeInvalidParams,
		fmt.Sprintf("Invalid params for %s: %s", method, reason),
		nil, &ValidationErrorData{Field: "params", Reason: reason})
}

// IsInvalidInput reports whether err is an input validation failure
func IsInvalidInput(err error) bool {
	return IsCode(err, CodeInvalidParams)
}

// ValidationField returns the offending field of an InvalidInput error
func ValidationField(err error) (string, bool) {
	mcpErr, ok := AsMCPError(err)
	if !ok {
		return "", false
	}
	data, ok := mcpErr.Data().(*ValidationErrorData)
	if !ok {
		return "", false
	}
	return data.Field, true
}
