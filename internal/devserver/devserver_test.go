package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

func newTestServer(t *testing.T) (*Server, *quizzly.Client) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EventInterval = 0
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, quizzly.NewClient(quizzly.WithBaseURL(ts.URL))
}

func dialWS(t *testing.T, client *quizzly.Client, ticket quizzly.ConnectionTicket, subprotocol string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := client.WSURL() + "?ticket=" + ticket.Value + "&quizId=" + ticket.SessionID.String()
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}, HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(u, nil)
}

func TestLoginAndRefreshRotation(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	tokens, err := client.Auth.Login(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	rotated, err := client.Auth.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The presented refresh token is single-use.
	_, err = client.Auth.Refresh(ctx, tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, quizzly.ErrUnauthorized)
}

func TestTicketRequiresValidAccessToken(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Auth.Login(ctx, "bob")
	require.NoError(t, err)

	ticket, err := client.Tickets.Issue(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, quizzly.SessionID(7), ticket.SessionID)

	assert.Equal(t, 1, srv.RevokeAccessTokens())
	_, err = client.Tickets.Issue(ctx, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, quizzly.ErrUnauthorized)
}

func TestTicketIsSingleUse(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Auth.Login(ctx, "carol")
	require.NoError(t, err)
	ticket, err := client.Tickets.Issue(ctx, 3)
	require.NoError(t, err)

	ws, _, err := dialWS(t, client, ticket, quizzly.SubprotocolJSON)
	require.NoError(t, err)
	defer ws.Close()

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := quizzly.JSONCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, quizzly.TypeSessionJoined, env.Type)

	var joined quizzly.SessionJoinedPayload
	require.NoError(t, quizzly.JSONCodec{}.UnmarshalPayload(env.Payload, &joined))
	assert.Equal(t, quizzly.SessionID(3), joined.SessionID)
	assert.Eventually(t, func() bool { return srv.ConnectionCount(3) == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := dialWS(t, client, ticket, quizzly.SubprotocolJSON)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPingPongAndAnswersOverCBOR(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	codec := quizzly.CBORCodec{}

	_, err := client.Auth.Login(ctx, "dave")
	require.NoError(t, err)
	ticket, err := client.Tickets.Issue(ctx, 11)
	require.NoError(t, err)

	ws, _, err := dialWS(t, client, ticket, quizzly.SubprotocolCBOR)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, quizzly.SubprotocolCBOR, ws.Subprotocol())

	read := func() quizzly.Envelope {
		typ, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, typ)
		env, err := codec.Decode(data)
		require.NoError(t, err)
		return env
	}
	write := func(env quizzly.Envelope) {
		data, err := codec.Encode(env)
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, data))
	}

	assert.Equal(t, quizzly.TypeSessionJoined, read().Type)

	write(quizzly.Envelope{Type: quizzly.TypePing, RequestID: "p1"})
	pong := read()
	assert.Equal(t, quizzly.TypePong, pong.Type)
	assert.Equal(t, "p1", pong.RequestID)

	payload, err := codec.MarshalPayload(AnswerPayload{Question: 0, Option: 1})
	require.NoError(t, err)
	write(quizzly.Envelope{Type: TypeAnswerSubmit, RequestID: "a1", Payload: payload})
	accepted := read()
	assert.Equal(t, TypeAnswerAccepted, accepted.Type)
	assert.Equal(t, "a1", accepted.RequestID)

	results, err := client.Sessions.Results(ctx, 11)
	require.NoError(t, err)
	require.Len(t, results.Standings, 1)
	assert.Equal(t, "dave", results.Standings[0].Nickname)
	assert.Equal(t, answerPoints, results.Standings[0].Score)
	assert.Equal(t, 1, results.Standings[0].Rank)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/quizzes/1/ws-ticket", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost))
	allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, allowed, "authorization")
	assert.Contains(t, allowed, "content-type")
}
