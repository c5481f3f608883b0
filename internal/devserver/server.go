// Package devserver is a self-contained Quizzly backend for local development
// and end-to-end tests. It issues tokens and tickets over REST and serves the
// realtime session endpoint over WebSocket.
package devserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

// Config holds devserver settings.
type Config struct {
	// Secret signs access tokens.
	Secret []byte

	AccessTokenTTL time.Duration
	TicketTTL      time.Duration

	// EventInterval paces the scripted quiz events sent to each connection.
	// Zero disables them.
	EventInterval time.Duration

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Secret:         []byte("quizzly-dev-secret"),
		AccessTokenTTL: 15 * time.Minute,
		TicketTTL:      30 * time.Second,
		EventInterval:  5 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    90 * time.Second,
		Clock:          clockwork.NewRealClock(),
		Logger:         zerolog.Nop(),
	}
}

// Server is the development backend.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	tokens   *tokenStore
	tickets  *ticketStore
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[quizzly.SessionID]map[*conn]struct{}
	quizzes map[quizzly.SessionID]*quiz
}

// New creates a Server. Zero config fields take their defaults.
func New(cfg Config) *Server {
	def := DefaultConfig()
	if len(cfg.Secret) == 0 {
		cfg.Secret = def.Secret
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = def.AccessTokenTTL
	}
	if cfg.TicketTTL == 0 {
		cfg.TicketTTL = def.TicketTTL
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		tokens:  newTokenStore(cfg.Secret, cfg.AccessTokenTTL, cfg.Clock),
		tickets: newTicketStore(cfg.TicketTTL, cfg.Clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{quizzly.SubprotocolJSON, quizzly.SubprotocolCBOR},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:   make(map[quizzly.SessionID]map[*conn]struct{}),
		quizzes: make(map[quizzly.SessionID]*quiz),
	}
}

// Handler returns the HTTP handler with routes and CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/quizzes/{id:[0-9]+}/ws-ticket", s.handleIssueTicket).Methods(http.MethodPost)
	r.HandleFunc("/api/quizzes/{id:[0-9]+}/results", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// ============================================================================
// Test hooks
// ============================================================================

// RevokeAccessTokens invalidates every issued access token, as if they had
// expired. Refresh tokens keep working.
func (s *Server) RevokeAccessTokens() int {
	return s.tokens.revokeAccess()
}

// TicketsIssued counts tickets handed out so far.
func (s *Server) TicketsIssued() int {
	return s.tickets.count()
}

// ConnectionCount returns the number of live sockets for a session.
func (s *Server) ConnectionCount(sessionID quizzly.SessionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[sessionID])
}

// DropConnections closes every socket of a session without a close
// handshake, simulating a network failure.
func (s *Server) DropConnections(sessionID quizzly.SessionID) int {
	s.mu.RLock()
	var conns []*conn
	for c := range s.conns[sessionID] {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.ws.Close()
	}
	return len(conns)
}

// Broadcast sends an event to every connection of a session.
func (s *Server) Broadcast(sessionID quizzly.SessionID, msgType string, payload any) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.conns[sessionID] {
		if c.push(msgType, "", payload) {
			n++
		}
	}
	return n
}

// ============================================================================
// REST handlers
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username is required")
		return
	}
	tokens, err := s.tokens.issue(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.log.Info().Str("username", req.Username).Msg("login")
	writeData(w, tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}
	tokens, err := s.tokens.rotate(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", err.Error())
		return
	}
	s.log.Debug().Msg("tokens refreshed")
	writeData(w, tokens)
}

func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	username, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	ticket := s.tickets.issue(username, sessionID)
	s.log.Debug().Str("username", username).Int64("session_id", int64(sessionID)).Msg("ticket issued")
	writeData(w, ticket)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	writeData(w, s.quiz(sessionID).results())
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	username, err := s.tokens.verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "token_expired", err.Error())
		return "", false
	}
	return username, true
}

func sessionParam(w http.ResponseWriter, r *http.Request) (quizzly.SessionID, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid quiz id")
		return 0, false
	}
	return quizzly.SessionID(id), true
}

func writeData(w http.ResponseWriter, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quizzly.APIResult{OK: true, Data: raw})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, quizzly.APIResult{Error: &quizzly.APIError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Quiz state
// ============================================================================

type quiz struct {
	id    quizzly.SessionID
	mu    sync.Mutex
	score map[string]int
}

func (s *Server) quiz(id quizzly.SessionID) *quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[id]
	if !ok {
		q = &quiz{id: id, score: make(map[string]int)}
		s.quizzes[id] = q
	}
	return q
}

func (q *quiz) join(username string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.score[username]; !ok {
		q.score[username] = 0
	}
}

func (q *quiz) award(username string, points int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.score[username] += points
}

func (q *quiz) results() quizzly.SessionResults {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := quizzly.SessionResults{SessionID: q.id, Title: "Quiz #" + q.id.String()}
	for name, score := range q.score {
		res.Standings = append(res.Standings, quizzly.ResultEntry{PlayerID: name, Nickname: name, Score: score})
	}
	sort.Slice(res.Standings, func(i, j int) bool {
		a, b := res.Standings[i], res.Standings[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Nickname < b.Nickname
	})
	for i := range res.Standings {
		res.Standings[i].Rank = i + 1
	}
	return res
}
