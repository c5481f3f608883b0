package quizzly

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection Socket
// ============================================================================

// Socket is one physical realtime transport. Send and Close may be called
// concurrently with Receive; Receive is only called from one goroutine.
// Receive returns a *FrameError for a frame that arrived but could not be
// decoded; any other error ends the socket.
type Socket interface {
	Send(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
	Close(reason string) error
}

// Dialer opens a Socket authenticated by a connection ticket. Each ticket is
// presented to exactly one Dial call.
type Dialer interface {
	Dial(ctx context.Context, ticket ConnectionTicket) (Socket, error)
}

// DefaultReadLimit caps inbound frame size.
const DefaultReadLimit = 1 << 20

// WSDialer dials the realtime endpoint over WebSocket.
type WSDialer struct {
	URL        string
	Codec      Codec
	HTTPClient *http.Client
	HTTPHeader http.Header
	ReadLimit  int64
}

// NewWSDialer creates a dialer for wsURL (e.g. Client.WSURL()). A nil codec
// selects JSON.
func NewWSDialer(wsURL string, codec Codec) *WSDialer {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WSDialer{URL: wsURL, Codec: codec, ReadLimit: DefaultReadLimit}
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, ticket ConnectionTicket) (Socket, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("parse url: %w", err)}
	}
	q := u.Query()
	q.Set("ticket", ticket.Value)
	q.Set("quizId", ticket.SessionID.String())
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.HTTPHeader,
		Subprotocols: []string{d.Codec.Name()},
	})
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if conn.Subprotocol() != d.Codec.Name() {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("server selected subprotocol %q, want %q", conn.Subprotocol(), d.Codec.Name())}
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsSocket{conn: conn, codec: d.Codec}, nil
}

type wsSocket struct {
	conn  *websocket.Conn
	codec Codec
}

func (s *wsSocket) Send(ctx context.Context, env Envelope) error {
	data, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if s.codec.Binary() {
		typ = websocket.MessageBinary
	}
	if err := s.conn.Write(ctx, typ, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (s *wsSocket) Receive(ctx context.Context) (Envelope, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return Envelope{}, &TransportError{Op: "read", Err: err}
	}
	env, err := s.codec.Decode(data)
	if err != nil {
		return Envelope{}, &FrameError{Err: err}
	}
	return env, nil
}

func (s *wsSocket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}
