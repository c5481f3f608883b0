package devserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

// Message types produced by the scripted quiz.
const (
	TypeQuestionStarted    = "question.started"
	TypeQuestionClosed     = "question.closed"
	TypeLeaderboardUpdated = "leaderboard.updated"
	TypeAdBreakStarted     = "ad_break.started"
	TypeAnswerSubmit       = "answer.submit"
	TypeAnswerAccepted     = "answer.accepted"
)

// AnswerPayload is the body of an answer.submit command.
type AnswerPayload struct {
	Question int `json:"question" cbor:"question"`
	Option   int `json:"option" cbor:"option"`
}

// QuestionPayload is the body of question.started and question.closed.
type QuestionPayload struct {
	Question int      `json:"question" cbor:"question"`
	Text     string   `json:"text,omitempty" cbor:"text,omitempty"`
	Options  []string `json:"options,omitempty" cbor:"options,omitempty"`
	Correct  *int     `json:"correct,omitempty" cbor:"correct,omitempty"`
}

const answerPoints = 10

// conn is one realtime client.
type conn struct {
	id        string
	username  string
	sessionID quizzly.SessionID
	ws        *websocket.Conn
	codec     quizzly.Codec
	send      chan quizzly.Envelope
	done      chan struct{}
	closeOnce sync.Once
	srv       *Server
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var sessionID quizzly.SessionID
	if raw := r.URL.Query().Get("quizId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid quizId", http.StatusBadRequest)
			return
		}
		sessionID = quizzly.SessionID(id)
	}

	entry, err := s.tickets.redeem(r.URL.Query().Get("ticket"), sessionID)
	if err != nil {
		s.log.Warn().Err(err).Int64("session_id", int64(sessionID)).Msg("ticket rejected")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	codec, err := quizzly.CodecByName(ws.Subprotocol())
	if err != nil {
		ws.Close()
		return
	}

	c := &conn{
		id:        uuid.NewString(),
		username:  entry.username,
		sessionID: entry.sessionID,
		ws:        ws,
		codec:     codec,
		send:      make(chan quizzly.Envelope, 256),
		done:      make(chan struct{}),
		srv:       s,
	}
	s.register(c)
	s.quiz(c.sessionID).join(c.username)

	c.push(quizzly.TypeSessionJoined, "", quizzly.SessionJoinedPayload{SessionID: c.sessionID, PlayerID: c.username})

	go c.writePump()
	go c.readPump()
	if s.cfg.EventInterval > 0 {
		go c.script(s.cfg.EventInterval)
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.sessionID] == nil {
		s.conns[c.sessionID] = make(map[*conn]struct{})
	}
	s.conns[c.sessionID][c] = struct{}{}
	s.log.Info().Str("conn_id", c.id).Str("username", c.username).Int64("session_id", int64(c.sessionID)).
		Str("codec", c.codec.Name()).Msg("client connected")
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conns, ok := s.conns[c.sessionID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(s.conns, c.sessionID)
			}
			s.log.Info().Str("conn_id", c.id).Int64("session_id", int64(c.sessionID)).Msg("client disconnected")
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.srv.unregister(c)
		c.ws.Close()
	})
}

// push queues a message, dropping it when the client is slow or gone.
func (c *conn) push(msgType, requestID string, payload any) bool {
	data, err := c.codec.MarshalPayload(payload)
	if err != nil {
		c.srv.log.Error().Err(err).Str("type", msgType).Msg("failed to marshal payload")
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- quizzly.Envelope{Type: msgType, RequestID: requestID, Payload: data}:
		return true
	default:
		c.srv.log.Warn().Str("conn_id", c.id).Str("type", msgType).Msg("send buffer full, dropping message")
		return false
	}
}

func (c *conn) writePump() {
	defer c.close()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			data, err := c.codec.Encode(env)
			if err != nil {
				c.srv.log.Error().Err(err).Str("conn_id", c.id).Msg("failed to encode message")
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(msgType, data); err != nil {
				c.srv.log.Debug().Err(err).Str("conn_id", c.id).Msg("failed to write message")
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(quizzly.DefaultReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.ReadTimeout))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Debug().Err(err).Str("conn_id", c.id).Msg("unexpected WebSocket close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.ReadTimeout))

		env, err := c.codec.Decode(data)
		if err != nil {
			c.srv.log.Debug().Err(err).Str("conn_id", c.id).Msg("ignoring undecodable message")
			continue
		}
		c.handle(env)
	}
}

func (c *conn) handle(env quizzly.Envelope) {
	switch env.Type {
	case quizzly.TypePing:
		c.push(quizzly.TypePong, env.RequestID, nil)
	case TypeAnswerSubmit:
		var answer AnswerPayload
		if err := c.codec.UnmarshalPayload(env.Payload, &answer); err != nil {
			c.srv.log.Debug().Err(err).Str("conn_id", c.id).Msg("invalid answer")
			return
		}
		c.srv.quiz(c.sessionID).award(c.username, answerPoints)
		c.push(TypeAnswerAccepted, env.RequestID, answer)
	default:
		c.srv.log.Debug().Str("conn_id", c.id).Str("type", env.Type).Msg("received client message")
	}
}

var questions = []QuestionPayload{
	{Text: "What is the capital of France?", Options: []string{"Berlin", "Paris", "Madrid"}},
	{Text: "How many continents are there?", Options: []string{"5", "6", "7"}},
	{Text: "Which planet is known as the red planet?", Options: []string{"Mars", "Venus", "Jupiter"}},
}

var answers = []int{1, 2, 0}

// script plays a looping quiz: question, close, leaderboard, with an ad
// break after every full round.
func (c *conn) script(interval time.Duration) {
	ticker := c.srv.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
		}

		round := step / 3
		idx := round % len(questions)
		switch step % 3 {
		case 0:
			q := questions[idx]
			q.Question = round
			c.push(TypeQuestionStarted, "", q)
		case 1:
			correct := answers[idx]
			c.push(TypeQuestionClosed, "", QuestionPayload{Question: round, Correct: &correct})
		case 2:
			c.push(TypeLeaderboardUpdated, "", c.srv.quiz(c.sessionID).results().Standings)
			if idx == len(questions)-1 {
				c.push(TypeAdBreakStarted, "", map[string]int{"seconds": 15})
			}
		}
		step++
	}
}
