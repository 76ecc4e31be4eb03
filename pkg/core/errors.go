package core

import (
	"fmt"
)

// Error is the canonical error for the live conversation stack.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrMissingCredential means no API key was configured. Fatal to the call.
	ErrMissingCredential ErrorType = "missing_credential"
	// ErrHandshakeTimeout means the setup acknowledgment never arrived. Fatal.
	ErrHandshakeTimeout ErrorType = "handshake_timeout"
	// ErrConnectionLost means the connection closed unexpectedly and
	// reconnection attempts were exhausted. Fatal.
	ErrConnectionLost ErrorType = "connection_lost"
	// ErrCaptureUnavailable means the microphone could not be acquired.
	// The session stays connected but produces no outbound audio.
	ErrCaptureUnavailable ErrorType = "capture_unavailable"
	// ErrMalformedMessage means an inbound payload could not be decoded.
	// Logged and dropped, never fatal.
	ErrMalformedMessage ErrorType = "malformed_message"
	// ErrSendRejected means a send was attempted in a state that disallows it.
	// Logged and dropped, never fatal.
	ErrSendRejected ErrorType = "send_rejected"
)

// NewMissingCredentialError creates a missing credential error.
func NewMissingCredentialError(message string) *Error {
	return &Error{
		Type:    ErrMissingCredential,
		Message: message,
	}
}

// NewHandshakeTimeoutError creates a handshake timeout error.
func NewHandshakeTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrHandshakeTimeout,
		Message: message,
	}
}

// NewConnectionLostError creates a connection lost error.
func NewConnectionLostError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{
		Type:    ErrConnectionLost,
		Message: message,
	}
}

// NewCaptureUnavailableError creates a capture unavailable error.
func NewCaptureUnavailableError(underlying error) *Error {
	return &Error{
		Type:    ErrCaptureUnavailable,
		Message: fmt.Sprintf("microphone unavailable: %v", underlying),
	}
}

// NewMalformedMessageError creates a malformed message error.
func NewMalformedMessageError(underlying error) *Error {
	return &Error{
		Type:    ErrMalformedMessage,
		Message: fmt.Sprintf("undecodable server message: %v", underlying),
	}
}

// NewSendRejectedError creates a send rejected error.
func NewSendRejectedError(op, state string) *Error {
	return &Error{
		Type:    ErrSendRejected,
		Message: fmt.Sprintf("%s is not permitted while %s", op, state),
		Code:    state,
	}
}

// IsFatal returns true if the error ends the session. Fatal errors leave the
// connection state at error; only a fresh session start recovers.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrMissingCredential, ErrHandshakeTimeout, ErrConnectionLost:
		return true
	default:
		return false
	}
}
