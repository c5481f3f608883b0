package quizzly

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ============================================================================
// Controller messages
// ============================================================================

// Every input to the controller is one of these messages. Messages produced
// on behalf of a connection attempt carry its generation; the controller
// drops any message whose generation is not current.

type connectIntent struct {
	sessionID SessionID
	reply     chan error
}

type disconnectIntent struct {
	done chan struct{}
}

type closeIntent struct {
	done chan struct{}
}

type sendIntent struct {
	env   Envelope
	reply chan error
}

type attemptDone struct {
	gen      uint64
	sock     Socket
	joined   SessionJoinedPayload
	err      error
	accepted chan bool
}

type inboundMsg struct {
	gen uint64
	env Envelope
}

// badFrame is inbound traffic that could not be decoded.
type badFrame struct {
	gen uint64
	err error
}

type transportLost struct {
	gen uint64
	err error
}

type backoffElapsed struct {
	gen uint64
}

// ============================================================================
// Reconnect Controller
// ============================================================================

// attempt is one physical connection attempt. released is closed once no
// socket from this attempt can still be open; the next attempt waits on it
// before dialing.
type attempt struct {
	gen       uint64
	sessionID SessionID
	connID    string
	ctx       context.Context
	cancel    context.CancelFunc
	released  chan struct{}

	// Set once the controller accepts the socket.
	sock   Socket
	writes chan Envelope
}

type snapshot struct {
	state     ConnectionState
	sessionID SessionID
	stream    *EventStream
}

// controller owns the connection state machine. Everything below the inbox
// is confined to the run goroutine.
type controller struct {
	cfg    RealtimeConfig
	policy ReconnectPolicy
	issuer TicketIssuer
	creds  CredentialSource
	dialer Dialer
	clock  clockwork.Clock
	log    zerolog.Logger

	root   context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}
	snap   atomic.Pointer[snapshot]

	state     ConnectionState
	sessionID SessionID
	attempts  int
	gen       uint64
	cur       *attempt
	released  <-chan struct{}
	backoff   clockwork.Timer
	hb        *heartbeat
	stream    *EventStream
	waiters   []chan error
	outbox    *outbox
}

func newController(issuer TicketIssuer, creds CredentialSource, dialer Dialer, cfg RealtimeConfig) *controller {
	root, cancel := context.WithCancel(context.Background())
	c := &controller{
		cfg:    cfg,
		policy: cfg.Policy(),
		issuer: issuer,
		creds:  creds,
		dialer: dialer,
		clock:  cfg.Clock,
		log:    cfg.Logger,
		root:   root,
		cancel: cancel,
		inbox:  make(chan any),
		done:   make(chan struct{}),
		state:  StateIdle,
		outbox: newOutbox(cfg.OutboxLimit),
	}
	c.snap.Store(&snapshot{state: StateIdle})
	go c.run()
	return c
}

// post hands a message to the controller. It reports false once the
// controller has stopped.
func (c *controller) post(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *controller) run() {
	defer close(c.done)
	defer c.cancel()

	for msg := range c.inbox {
		switch m := msg.(type) {
		case connectIntent:
			c.onConnect(m)
		case disconnectIntent:
			c.onDisconnect()
			close(m.done)
		case sendIntent:
			c.onSend(m)
		case attemptDone:
			c.onAttemptDone(m)
		case inboundMsg:
			c.onInbound(m)
		case badFrame:
			c.onBadFrame(m)
		case transportLost:
			if m.gen == c.gen && c.state == StateOpen {
				c.fail(m.err)
			}
		case backoffElapsed:
			c.onBackoffElapsed(m)
		case heartbeatTick:
			c.onHeartbeat(m)
		case closeIntent:
			c.onDisconnect()
			close(m.done)
			return
		}
	}
}

// ----------------------------------------------------------------------------
// Intents
// ----------------------------------------------------------------------------

func (c *controller) onConnect(m connectIntent) {
	if c.state.bound() && c.sessionID == m.sessionID {
		if c.state == StateOpen {
			m.reply <- nil
			return
		}
		// Await the in-flight attempt instead of starting a second handshake.
		c.waiters = append(c.waiters, m.reply)
		return
	}

	if c.state.bound() {
		c.log.Info().Int64("session_id", int64(c.sessionID)).Int64("next_session_id", int64(m.sessionID)).
			Msg("superseding session")
		c.endSession(StateClosed, nil)
	}

	c.sessionID = m.sessionID
	c.attempts = 0
	c.stream = newEventStream(m.sessionID, c.cfg.EventBuffer)
	c.waiters = append(c.waiters, m.reply)
	c.startAttempt()
	c.transition(StateConnecting, 0, nil)
}

func (c *controller) onDisconnect() {
	if c.state == StateIdle || c.state == StateClosed {
		return
	}
	c.endSession(StateClosed, nil)
}

func (c *controller) onSend(m sendIntent) {
	switch c.state {
	case StateOpen:
		select {
		case c.cur.writes <- m.env:
			m.reply <- nil
		default:
			m.reply <- ErrOutboxFull
		}
	case StateConnecting, StateReconnecting:
		m.reply <- c.outbox.push(m.env)
	default:
		m.reply <- ErrNotConnected
	}
}

// ----------------------------------------------------------------------------
// Attempts
// ----------------------------------------------------------------------------

func (c *controller) startAttempt() {
	c.gen++
	ctx, cancel := context.WithCancel(c.root)
	att := &attempt{
		gen:       c.gen,
		sessionID: c.sessionID,
		connID:    uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		released:  make(chan struct{}),
	}
	barrier := c.released
	c.released = att.released
	c.cur = att
	go c.runAttempt(att, barrier)
}

// runAttempt fetches a ticket, dials and waits for the join acknowledgement.
// It owns the socket until the controller accepts it.
func (c *controller) runAttempt(att *attempt, barrier <-chan struct{}) {
	if barrier != nil {
		<-barrier
	}
	if att.ctx.Err() != nil {
		close(att.released)
		return
	}

	sock, joined, err := c.establish(att)
	if err != nil {
		close(att.released)
		c.post(attemptDone{gen: att.gen, err: err})
		return
	}

	accepted := make(chan bool, 1)
	if !c.post(attemptDone{gen: att.gen, sock: sock, joined: joined, accepted: accepted}) || !<-accepted {
		sock.Close("superseded")
		close(att.released)
	}
}

func (c *controller) establish(att *attempt) (Socket, SessionJoinedPayload, error) {
	var joined SessionJoinedPayload
	log := c.log.With().Int64("session_id", int64(att.sessionID)).Str("conn_id", att.connID).Logger()

	ticket, err := FetchTicket(att.ctx, c.issuer, c.creds, att.sessionID)
	if err != nil {
		return nil, joined, err
	}
	log.Debug().Time("issued_at", ticket.IssuedAt).Msg("ticket issued")

	sock, err := c.dialer.Dial(att.ctx, ticket)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: "dial", Err: err}
		}
		return nil, joined, err
	}

	hctx, cancel := context.WithTimeout(att.ctx, c.cfg.HandshakeTimeout)
	env, err := sock.Receive(hctx)
	cancel()
	if err != nil {
		sock.Close("handshake failed")
		return nil, joined, &TransportError{Op: "handshake", Err: err}
	}

	switch env.Type {
	case TypeSessionJoined:
		if err := c.cfg.Codec.UnmarshalPayload(env.Payload, &joined); err != nil {
			sock.Close("bad handshake")
			return nil, joined, &TransportError{Op: "handshake", Err: err}
		}
		if joined.SessionID != 0 && joined.SessionID != att.sessionID {
			sock.Close("wrong session")
			return nil, joined, &TransportError{Op: "handshake",
				Err: fmt.Errorf("%w: joined session %s, want %s", ErrHandshakeRejected, joined.SessionID, att.sessionID)}
		}
	case TypeSessionRejected:
		var rejected SessionRejectedPayload
		_ = c.cfg.Codec.UnmarshalPayload(env.Payload, &rejected)
		sock.Close("rejected")
		return nil, joined, &TransportError{Op: "handshake", Err: fmt.Errorf("%w: %s", ErrHandshakeRejected, rejected.Reason)}
	default:
		sock.Close("unexpected handshake")
		return nil, joined, &TransportError{Op: "handshake",
			Err: fmt.Errorf("%w: expected %q, got %q", ErrHandshakeRejected, TypeSessionJoined, env.Type)}
	}
	return sock, joined, nil
}

func (c *controller) onAttemptDone(m attemptDone) {
	if m.gen != c.gen || c.cur == nil || c.state != StateConnecting {
		// Superseded: discard silently.
		if m.accepted != nil {
			m.accepted <- false
		}
		return
	}
	if m.err != nil {
		c.fail(m.err)
		return
	}

	m.accepted <- true
	att := c.cur
	att.sock = m.sock
	att.writes = make(chan Envelope, c.cfg.OutboxLimit+16)
	go c.writePump(att)
	go c.readPump(att)

	c.attempts = 0
	c.hb = newHeartbeat(c.clock, c.cfg.HeartbeatInterval, c.policy.GracePeriod, att.gen,
		func(t heartbeatTick) { c.post(t) })
	c.hb.start()

	for _, env := range c.outbox.drain() {
		att.writes <- env
	}
	c.resolveWaiters(nil)

	c.log.Info().Int64("session_id", int64(c.sessionID)).Str("conn_id", att.connID).
		Str("player_id", m.joined.PlayerID).Msg("session joined")
	c.transition(StateOpen, 0, nil)
}

// readPump and writePump follow the one-reader/one-writer rule per socket.
func (c *controller) readPump(att *attempt) {
	for {
		env, err := att.sock.Receive(att.ctx)
		var fe *FrameError
		if errors.As(err, &fe) {
			if !c.post(badFrame{gen: att.gen, err: fe}) {
				return
			}
			continue
		}
		if err != nil {
			if att.ctx.Err() == nil {
				c.post(transportLost{gen: att.gen, err: err})
			}
			return
		}
		if !c.post(inboundMsg{gen: att.gen, env: env}) {
			return
		}
	}
}

func (c *controller) writePump(att *attempt) {
	for {
		select {
		case <-att.ctx.Done():
			return
		case env := <-att.writes:
			if err := att.sock.Send(att.ctx, env); err != nil {
				if att.ctx.Err() == nil {
					c.post(transportLost{gen: att.gen, err: err})
				}
				return
			}
		}
	}
}

// ----------------------------------------------------------------------------
// Open connection
// ----------------------------------------------------------------------------

func (c *controller) onInbound(m inboundMsg) {
	if m.gen != c.gen || c.state != StateOpen {
		return
	}
	c.hb.touch()
	if m.env.Type == TypePong {
		return
	}
	ev := Event{
		Type:       m.env.Type,
		SessionID:  c.sessionID,
		RequestID:  m.env.RequestID,
		Payload:    m.env.Payload,
		ReceivedAt: c.clock.Now(),
		codec:      c.cfg.Codec,
	}
	if !c.stream.deliver(ev) {
		c.log.Warn().Int64("session_id", int64(c.sessionID)).Str("type", ev.Type).
			Msg("event buffer full, dropping event")
	}
}

// onBadFrame counts an undecodable frame as traffic; the peer is alive.
func (c *controller) onBadFrame(m badFrame) {
	if m.gen != c.gen || c.state != StateOpen {
		return
	}
	c.hb.touch()
	c.log.Debug().Err(m.err).Int64("session_id", int64(c.sessionID)).Msg("dropping undecodable frame")
}

func (c *controller) onHeartbeat(t heartbeatTick) {
	if c.hb == nil || c.state != StateOpen {
		return
	}
	switch c.hb.handle(t) {
	case heartbeatSendProbe:
		probe := Envelope{Type: TypePing, RequestID: uuid.NewString()}
		select {
		case c.cur.writes <- probe:
		default:
			c.log.Warn().Int64("session_id", int64(c.sessionID)).Msg("write queue full, skipping heartbeat probe")
		}
	case heartbeatLost:
		c.log.Warn().Int64("session_id", int64(c.sessionID)).Int("probes_sent", c.hb.probesSent).
			Dur("silent_for", c.clock.Since(c.hb.lastTraffic)).Msg("heartbeat lost")
		c.fail(ErrHeartbeatTimeout)
	default:
		if c.hb.inGrace() {
			c.log.Warn().Int64("session_id", int64(c.sessionID)).Dur("grace", c.policy.GracePeriod).
				Dur("silent_for", c.clock.Since(c.hb.lastTraffic)).Msg("no inbound traffic, waiting out grace period")
		}
	}
}

// ----------------------------------------------------------------------------
// Failure and teardown
// ----------------------------------------------------------------------------

// fail handles a failed attempt or a lost connection: schedule the next
// attempt with backoff, or give up once the policy is exhausted.
func (c *controller) fail(cause error) {
	c.dropConnection("connection lost")

	if c.policy.Exhausted(c.attempts) {
		c.log.Error().Err(cause).Int64("session_id", int64(c.sessionID)).Int("attempts", c.attempts).
			Msg("reconnect attempts exhausted")
		c.endSession(StateFailed, fmt.Errorf("%w: %w", ErrAttemptsExhausted, cause))
		return
	}

	c.attempts++
	delay := c.policy.Delay(c.attempts)
	gen := c.gen
	c.backoff = c.clock.AfterFunc(delay, func() { c.post(backoffElapsed{gen: gen}) })

	c.log.Warn().Err(cause).Int64("session_id", int64(c.sessionID)).Int("attempt", c.attempts).
		Dur("delay", delay).Msg("scheduling reconnect")
	c.transition(StateReconnecting, delay, cause)
}

func (c *controller) onBackoffElapsed(m backoffElapsed) {
	if m.gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.backoff = nil
	c.startAttempt()
	c.transition(StateConnecting, 0, nil)
}

// dropConnection releases everything tied to the current attempt and
// invalidates its pending callbacks.
func (c *controller) dropConnection(reason string) {
	c.gen++
	if c.hb != nil {
		c.hb.stop()
		c.hb = nil
	}
	if c.backoff != nil {
		c.backoff.Stop()
		c.backoff = nil
	}
	att := c.cur
	c.cur = nil
	if att == nil {
		return
	}
	att.cancel()
	if att.sock != nil {
		go func() {
			att.sock.Close(reason)
			close(att.released)
		}()
	}
	// Otherwise runAttempt still owns the socket and releases it.
}

// endSession leaves the bound session for Closed or Failed.
func (c *controller) endSession(to ConnectionState, err error) {
	c.dropConnection("session ended")

	waiterErr := err
	if waiterErr == nil {
		waiterErr = ErrSuperseded
	}
	c.resolveWaiters(waiterErr)

	if n := c.outbox.reset(); n > 0 {
		c.log.Warn().Int64("session_id", int64(c.sessionID)).Int("dropped", n).Msg("discarding queued commands")
	}
	if c.stream != nil {
		c.stream.end(err)
	}
	c.transition(to, 0, err)
}

func (c *controller) resolveWaiters(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

func (c *controller) transition(to ConnectionState, delay time.Duration, err error) {
	from := c.state
	c.state = to
	c.snap.Store(&snapshot{state: to, sessionID: c.sessionID, stream: c.stream})

	c.log.Info().Int64("session_id", int64(c.sessionID)).Str("from", from.String()).Str("state", to.String()).
		Int("attempt", c.attempts).Msg("state changed")

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(StateChange{
			From:      from,
			To:        to,
			SessionID: c.sessionID,
			Attempt:   c.attempts,
			Delay:     delay,
			Err:       err,
		})
	}
}
