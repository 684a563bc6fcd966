package gateway

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures produced by the gateway itself.
// Transport failures are returned unchanged and carry no code.
type ErrorCode int

const (
	// CodeNotAccessible is reported for every request once the gateway
	// has been shut down.
	CodeNotAccessible ErrorCode = iota + 1
	// CodeProtocolUnknown is reported for secure schemes when the network
	// stack has no TLS support.
	CodeProtocolUnknown
	// CodeContentNotFound is reported when a scheme handler has no
	// content for the request.
	CodeContentNotFound
	// CodeHandlerFailed is reported when a scheme handler fails.
	CodeHandlerFailed
	// CodeOperationCanceled is reported for aborted requests.
	CodeOperationCanceled
)

var codeNames = map[ErrorCode]string{
	CodeNotAccessible:     "not accessible",
	CodeProtocolUnknown:   "protocol unknown",
	CodeContentNotFound:   "content not found",
	CodeHandlerFailed:     "handler failed",
	CodeOperationCanceled: "operation canceled",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

var (
	ErrNotAccessible     = errors.New("network access is not possible")
	ErrProtocolUnknown   = errors.New("protocol unknown")
	ErrOperationCanceled = errors.New("operation canceled")
)

var codeSentinels = map[ErrorCode]error{
	CodeNotAccessible:     ErrNotAccessible,
	CodeProtocolUnknown:   ErrProtocolUnknown,
	CodeOperationCanceled: ErrOperationCanceled,
}

// NetworkError is a failure synthesized by the gateway. Use errors.As to
// inspect the code, or errors.Is against the exported sentinels.
type NetworkError struct {
	Code    ErrorCode
	Message string
	URL     string
	// Err is the underlying cause, if any.
	Err error
}

func newNetworkError(code ErrorCode, url, msg string, cause error) *NetworkError {
	return &NetworkError{Code: code, Message: msg, URL: url, Err: cause}
}

// Error implements the error interface.
// Format: "url: message"
func (e *NetworkError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.URL == "" {
		return msg
	}
	return e.URL + ": " + msg
}

// Unwrap returns the underlying cause.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error belonging to e.Code.
func (e *NetworkError) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// CodeOf returns the gateway error code carried by err, or 0.
func CodeOf(err error) ErrorCode {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Code
	}
	return 0
}
