package mcpserver

import (
	"fmt"

	"github.com/mcpgate/mcpgate/internal/jsonrpc"
)

// Error is a domain error raised by dispatch or by a handler. Its code
// and message are surfaced verbatim in the JSON-RPC error envelope.
// Anything else that escapes a handler is downgraded to a generic
// internal error so internals never leak to the caller.
type Error struct {
	Code    jsonrpc.ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a domain error with an explicit code.
func NewError(code jsonrpc.ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// InvalidArgumentf builds a domain error for missing or malformed
// request fields and unknown tool/resource/prompt names.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Code: jsonrpc.ErrorCodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}
