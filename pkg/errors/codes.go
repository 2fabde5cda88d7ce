package errors

// JSON-RPC 2.0 reserved codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Server codes. CodeUnknownCapability keeps the MCP "resource not found"
// value so clients that special-case it keep working.
const (
	CodeUnknownCapability   int = -32002 // no tool or resource under the key
	CodeOperationCancelled  int = -32003 // cancelled by the client or by session close
	CodeResourceUnavailable int = -32201 // resource producer failed
	CodeDuplicateKey        int = -32202 // key already registered
	CodeToolExecution       int = -32302 // tool handler failed or panicked
	CodeTunnelEstablish     int = -32501 // tunnel could not be opened
)

type kind struct {
	name     string
	category Category
	severity Severity
}

var kinds = map[int]kind{
	CodeParseError:     {"ParseError", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {"InvalidRequest", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {"MethodNotFound", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {"InvalidParams", CategoryValidation, SeverityError},
	CodeInternalError:  {"InternalError", CategoryInternal, SeverityError},

	CodeUnknownCapability:   {"UnknownCapability", CategoryNotFound, SeverityError},
	CodeOperationCancelled:  {"OperationCancelled", CategoryCancelled, SeverityInfo},
	CodeResourceUnavailable: {"ResourceUnavailable", CategoryResource, SeverityError},
	CodeDuplicateKey:        {"DuplicateKey", CategoryRegistry, SeverityCritical},
	CodeToolExecution:       {"ToolExecution", CategoryExecution, SeverityError},
	CodeTunnelEstablish:     {"TunnelEstablish", CategoryTunnel, SeverityWarning},
}

func kindOf(code int) kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return kind{"UnknownError", CategoryInternal, SeverityError}
}

// CodeName returns the symbolic name of a code, such as "ToolExecution"
func CodeName(code int) string {
	return kindOf(code).name
}
