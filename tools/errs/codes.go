package errs

// Taxonomy codes. One per failure class the library surfaces.
const (
	CodeTransport          = 1001 // TCP/TLS/WebSocket layer, retriable
	CodeHTTPStatus         = 1002 // non-2xx REST response
	CodeRateLimitExhausted = 1003 // 429 re-submit cap hit
	CodeGatewayClose       = 1004 // gateway close frame
	CodeProtocol           = 1005 // malformed payload / unknown opcode
	CodeAuthentication     = 1006 // bad token or intents, fatal
	CodeTimeout            = 1007 // deadline exceeded
	CodeCacheMiss          = 1008 // entity not in local cache
	CodeAgeRestricted      = 1009 // bulk-delete 14-day guard
	CodeShardLimit         = 1010 // sharding required / identify quota spent
	CodeInternal           = 1099
)

var (
	ErrTransport          = NewCodeError(CodeTransport, "transport error")
	ErrHTTPStatus         = NewCodeError(CodeHTTPStatus, "http status error")
	ErrRateLimitExhausted = NewCodeError(CodeRateLimitExhausted, "rate limit exhausted")
	ErrGatewayClose       = NewCodeError(CodeGatewayClose, "gateway closed")
	ErrProtocol           = NewCodeError(CodeProtocol, "protocol error")
	ErrAuthentication     = NewCodeError(CodeAuthentication, "authentication failed")
	ErrTimeout            = NewCodeError(CodeTimeout, "timeout")
	ErrCacheMiss          = NewCodeError(CodeCacheMiss, "not found in cache")
	ErrAgeRestricted      = NewCodeError(CodeAgeRestricted, "message too old")
	ErrShardLimit         = NewCodeError(CodeShardLimit, "sharding limit")
	ErrInternal           = NewCodeError(CodeInternal, "internal error")
)
