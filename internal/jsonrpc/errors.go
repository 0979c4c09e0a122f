package jsonrpc

// ErrorCode is the numeric code carried by a JSON-RPC error object.
type ErrorCode int

const (
	// ErrorCodeInvalidRequest covers parse failures, unknown methods and
	// missing or malformed required parameters.
	ErrorCodeInvalidRequest ErrorCode = 100
	// ErrorCodeInternalError is the generic code for unexpected failures.
	ErrorCodeInternalError ErrorCode = 500
)
