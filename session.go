package quizzly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Session Client
// ============================================================================

// SessionClient keeps at most one live connection to a running quiz. All
// methods are safe for concurrent use.
type SessionClient struct {
	ctl *controller
	cfg RealtimeConfig

	closeOnce sync.Once
}

// NewSessionClient creates an Idle client. The issuer is usually
// Client.Tickets and creds Client.Credentials().
func NewSessionClient(issuer TicketIssuer, creds CredentialSource, dialer Dialer, cfg RealtimeConfig) (*SessionClient, error) {
	if issuer == nil || creds == nil || dialer == nil {
		return nil, errors.New("quizzly: issuer, credentials and dialer are required")
	}
	if cfg.Codec == nil {
		if wd, ok := dialer.(*WSDialer); ok && wd.Codec != nil {
			cfg.Codec = wd.Codec
		}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SessionClient{ctl: newController(issuer, creds, dialer, cfg), cfg: cfg}, nil
}

// Connect binds the client to sessionID and waits until the connection is
// Open. Calling it again for the bound session joins the in-flight attempt
// instead of starting another one. A different sessionID tears the current
// connection down first.
//
// Connect returns an error matching ErrAttemptsExhausted when the session
// fails, ErrSuperseded when a later Connect or Disconnect replaced it, or the
// context error when ctx ends first; in that last case the connection keeps
// going in the background.
func (s *SessionClient) Connect(ctx context.Context, sessionID SessionID) error {
	reply := make(chan error, 1)
	if !s.ctl.post(connectIntent{sessionID: sessionID, reply: reply}) {
		return ErrClientClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctl.done:
		return ErrClientClosed
	}
}

// Disconnect closes the session, cancelling pending reconnect and heartbeat
// timers. It is a no-op when Idle or Closed. No state change is reported
// after it returns.
func (s *SessionClient) Disconnect() {
	done := make(chan struct{})
	if s.ctl.post(disconnectIntent{done: done}) {
		<-done
	}
}

// Send writes a command to the session. While Connecting or Reconnecting the
// command is queued and flushed once the connection opens.
func (s *SessionClient) Send(ctx context.Context, msgType string, payload any) error {
	if msgType == "" {
		return errors.New("quizzly: message type is required")
	}
	data, err := s.cfg.Codec.MarshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	reply := make(chan error, 1)
	msg := sendIntent{env: Envelope{Type: msgType, RequestID: uuid.NewString(), Payload: data}, reply: reply}

	select {
	case s.ctl.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctl.done:
		return ErrClientClosed
	}
	return <-reply
}

// State returns the current connection state.
func (s *SessionClient) State() ConnectionState {
	return s.ctl.snap.Load().state
}

// SessionID returns the bound session, if any.
func (s *SessionClient) SessionID() (SessionID, bool) {
	snap := s.ctl.snap.Load()
	if !snap.state.bound() {
		return 0, false
	}
	return snap.sessionID, true
}

// Events returns the event stream of the current or most recent session, or
// nil before the first Connect.
func (s *SessionClient) Events() *EventStream {
	return s.ctl.snap.Load().stream
}

// Close disconnects and stops the client. Later calls to Connect return
// ErrClientClosed.
func (s *SessionClient) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		if s.ctl.post(closeIntent{done: done}) {
			<-done
		}
		<-s.ctl.done
	})
	return nil
}

// ============================================================================
// Events
// ============================================================================

// Event is one inbound session message.
type Event struct {
	Type       string
	SessionID  SessionID
	RequestID  string
	Payload    []byte
	ReceivedAt time.Time

	codec Codec
}

// Decode unmarshals the payload with the connection's codec.
func (e Event) Decode(v any) error {
	codec := e.codec
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := codec.UnmarshalPayload(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventStream carries the events of one session. C is closed when the
// session ends; Err then reports why.
type EventStream struct {
	C <-chan Event

	ch        chan Event
	sessionID SessionID
	dropped   atomic.Int64

	mu     sync.Mutex
	err    error
	closed bool
}

func newEventStream(sessionID SessionID, buffer int) *EventStream {
	ch := make(chan Event, buffer)
	return &EventStream{C: ch, ch: ch, sessionID: sessionID}
}

// SessionID returns the session the stream belongs to.
func (s *EventStream) SessionID() SessionID {
	return s.sessionID
}

// Err is nil while the stream is live and after an intentional close, and
// matches ErrAttemptsExhausted after a terminal failure.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped counts events discarded because the consumer fell behind.
func (s *EventStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *EventStream) deliver(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *EventStream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
