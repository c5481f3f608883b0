package quizzly

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnauthorized is matched by 401 API errors.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoCredentials means no usable access or refresh token is available.
	ErrNoCredentials = errors.New("no credentials")

	// ErrNotConnected is returned by Send when no session is bound.
	ErrNotConnected = errors.New("not connected")

	// ErrAttemptsExhausted is the terminal failure after MaxReconnectAttempts.
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

	// ErrSuperseded is returned to Connect callers whose session was replaced
	// by a newer Connect or Disconnect before it opened.
	ErrSuperseded = errors.New("superseded")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("session client closed")

	// ErrHandshakeRejected means the backend refused to join the session.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrHeartbeatTimeout means no inbound traffic arrived within the heartbeat
	// interval plus grace period.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrOutboxFull is returned by Send when too many commands are queued.
	ErrOutboxFull = errors.New("outbox full")
)

// TicketError reports a failed ticket issuance.
type TicketError struct {
	SessionID SessionID
	Err       error
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("ticket for session %s: %v", e.SessionID, e.Err)
}

func (e *TicketError) Unwrap() error { return e.Err }

// TransportError reports a socket that failed to open or dropped.
type TransportError struct {
	Op  string // "dial", "handshake", "read", "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FrameError reports an inbound frame the codec could not read. The socket
// stays usable.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("undecodable frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
