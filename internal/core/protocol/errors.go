package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Wire errors
var (
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrTruncatedFrame    = errors.New("truncated frame")
	ErrLengthMismatch    = errors.New("frame length mismatch")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrComponentTooLarge = errors.New("component payload too large")
	ErrTooManyComponents = errors.New("too many components")
	ErrUnexpectedKind    = errors.New("unexpected message kind")
	ErrReservedComponent = errors.New("reserved component id")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Framing error codes (1000-1999)

	ErrorCodeUnknownEventType  ErrorCode = 1001
	ErrorCodeTruncatedFrame    ErrorCode = 1002
	ErrorCodeLengthMismatch    ErrorCode = 1003
	ErrorCodePayloadTooLarge   ErrorCode = 1004
	ErrorCodeComponentTooLarge ErrorCode = 1005
	ErrorCodeTooManyComponents ErrorCode = 1006
	ErrorCodeUnexpectedKind    ErrorCode = 1007
	ErrorCodeReservedComponent ErrorCode = 1008

	// Replication error codes (2000-2999)

	ErrorCodeNotOwner          ErrorCode = 2001
	ErrorCodeStaticIDConflict  ErrorCode = 2002
	ErrorCodeComponentRejected ErrorCode = 2003

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error represents a protocol-specific error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64

	peer    PeerID
	hasPeer bool
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.hasPeer {
		msg = fmt.Sprintf("%s (peer %s)", msg, e.peer)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// WithPeer attributes the error to the peer that sent the offending data.
func (e *Error) WithPeer(peer PeerID) *Error {
	e.peer = peer
	e.hasPeer = true
	return e
}

// Peer returns the peer the error is attributed to, if any.
func (e *Error) Peer() (PeerID, bool) {
	return e.peer, e.hasPeer
}

var errorCodeMap = map[error]ErrorCode{
	ErrUnknownEventType:  ErrorCodeUnknownEventType,
	ErrTruncatedFrame:    ErrorCodeTruncatedFrame,
	ErrLengthMismatch:    ErrorCodeLengthMismatch,
	ErrPayloadTooLarge:   ErrorCodePayloadTooLarge,
	ErrComponentTooLarge: ErrorCodeComponentTooLarge,
	ErrTooManyComponents: ErrorCodeTooManyComponents,
	ErrUnexpectedKind:    ErrorCodeUnexpectedKind,
	ErrReservedComponent: ErrorCodeReservedComponent,
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a protocol Error
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}

// AttributeTo returns err as a protocol Error attributed to peer.
func AttributeTo(err error, peer PeerID) *Error {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.WithPeer(peer)
	}
	return WrapError(err, "protocol violation").WithPeer(peer)
}

func frameError(sentinel error, format string, args ...any) *Error {
	return NewProtocolError(errorCodeMap[sentinel], fmt.Sprintf(format, args...), sentinel)
}
