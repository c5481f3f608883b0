package quizzly

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// SessionID identifies one quiz run.
type SessionID int64

func (id SessionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return e.Code + ": " + e.Message
}

// Is reports 401 responses as ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// APIResult is the generic REST response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Auth Types
// ============================================================================

// TokenPair is the long-lived bearer credential pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ConnectionTicket is a short-lived, single-use credential for one realtime
// connection attempt.
type ConnectionTicket struct {
	Value     string    `json:"ticket"`
	IssuedAt  time.Time `json:"issuedAt"`
	SessionID SessionID `json:"quizId"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionResults is the final standings of a finished quiz run.
type SessionResults struct {
	SessionID SessionID     `json:"quizId"`
	Title     string        `json:"title"`
	EndedAt   time.Time     `json:"endedAt"`
	Standings []ResultEntry `json:"standings"`
}

// ResultEntry is one player's final position.
type ResultEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}
