package response

const (
	ErrCodeSuccess      = 2000 // Success
	ErrCodeParamInvalid = 4003 // Request body or params invalid
	ErrCodeUnauthorized = 4010 // Missing or invalid bearer token
	ErrCodeRateLimited  = 4290 // Too many requests
	ErrCodeInternal     = 5000 // Internal error
	ErrCodeUnavailable  = 5030 // Hub shutting down
)

// message
var msg = map[int]string{
	ErrCodeSuccess:      "success",
	ErrCodeParamInvalid: "invalid request",
	ErrCodeUnauthorized: "unauthorized",
	ErrCodeRateLimited:  "too many requests",
	ErrCodeInternal:     "internal error",
	ErrCodeUnavailable:  "service unavailable",
}

// Msg returns the default message for code.
func Msg(code int) string {
	if m, ok := msg[code]; ok {
		return m
	}
	return "unknown error"
}
