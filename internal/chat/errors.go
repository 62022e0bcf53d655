package chat

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

// Error carries a code for the transport layer and, for input and
// availability problems, the reply text shown to the user.
type Error struct {
	Code   ErrorCode
	Reason string
	Reply  string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, reply string, err error) *Error {
	return &Error{Code: code, Reason: reason, Reply: reply, Err: err}
}
