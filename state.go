package quizzly

import "time"

// ConnectionState is the realtime connection state.
type ConnectionState uint8

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// bound reports whether a session id is associated with the state.
func (s ConnectionState) bound() bool {
	return s == StateConnecting || s == StateOpen || s == StateReconnecting
}

// StateChange describes one transition of the connection state machine.
type StateChange struct {
	From      ConnectionState
	To        ConnectionState
	SessionID SessionID

	// Attempt is the reconnect attempt counter after the transition.
	Attempt int

	// Delay is the backoff before the next attempt (Reconnecting only).
	Delay time.Duration

	// Err is the failure that caused the transition, if any.
	Err error
}
