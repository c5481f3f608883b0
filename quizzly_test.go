package quizzly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResult(w http.ResponseWriter, status int, data any) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResult{OK: status < 300, Data: raw})
}

func writeAPIError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResult{Error: &APIError{Code: code, Message: code}})
}

func TestClientURLs(t *testing.T) {
	c := NewClient(WithBaseURL("http://localhost:8080/"))
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
	assert.Equal(t, "ws://localhost:8080/ws", c.WSURL())

	c = NewClient(WithEnvironment(Staging))
	assert.Equal(t, "wss://api.staging.quizzly.app/ws", c.WSURL())

	assert.Equal(t, DefaultBaseURL, NewClient().BaseURL())
}

func TestAuthLoginStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["username"])
		writeResult(w, http.StatusOK, TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	tokens, err := c.Auth.Login(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a1", tokens.AccessToken)

	token, ok := c.Credentials().AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "a1", token)
}

func TestTicketsIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/quizzes/42/ws-ticket", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer a1" {
			writeAPIError(w, http.StatusUnauthorized, "token_expired")
			return
		}
		writeResult(w, http.StatusOK, map[string]string{"ticket": "tk-1"})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTokens(TokenPair{AccessToken: "a1"}))
	ticket, err := c.Tickets.Issue(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tk-1", ticket.Value)
	assert.Equal(t, SessionID(42), ticket.SessionID)
	assert.False(t, ticket.IssuedAt.IsZero())

	// Stale token: reported, not refreshed.
	stale := NewClient(WithBaseURL(srv.URL), WithTokens(TokenPair{AccessToken: "old", RefreshToken: "r"}))
	_, err = stale.Tickets.Issue(context.Background(), 42)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "token_expired", apiErr.Code)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTicketsIssueWithoutToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Tickets.Issue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDoRefreshesOnceOnUnauthorized(t *testing.T) {
	var refreshes, results atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refreshToken"])
		writeResult(w, http.StatusOK, TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	})
	mux.HandleFunc("/api/quizzes/3/results", func(w http.ResponseWriter, r *http.Request) {
		results.Add(1)
		if r.Header.Get("Authorization") != "Bearer a2" {
			writeAPIError(w, http.StatusUnauthorized, "token_expired")
			return
		}
		writeResult(w, http.StatusOK, SessionResults{SessionID: 3, Title: "Trivia", Standings: []ResultEntry{
			{Rank: 1, PlayerID: "p1", Nickname: "alice", Score: 30},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var rotated []TokenPair
	c := NewClient(WithBaseURL(srv.URL),
		WithTokens(TokenPair{AccessToken: "a1", RefreshToken: "r1"}, OnRefresh(func(p TokenPair) { rotated = append(rotated, p) })))

	res, err := c.Sessions.Results(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Trivia", res.Title)
	require.Len(t, res.Standings, 1)
	assert.Equal(t, 30, res.Standings[0].Score)

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), results.Load())
	assert.Equal(t, []TokenPair{{AccessToken: "a2", RefreshToken: "r2"}}, rotated)
}

func TestDoGivesUpAfterOneRetry(t *testing.T) {
	var refreshes, calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeResult(w, http.StatusOK, TokenPair{AccessToken: "a2", RefreshToken: "r"})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusUnauthorized, "token_expired")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTokens(TokenPair{AccessToken: "a1", RefreshToken: "r"}))
	err := c.Do(context.Background(), http.MethodGet, "/api/me", nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/not-ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":{"code":"quiz_finished","message":"quiz is over"}}`))
	})
	mux.HandleFunc("/plain-500", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTokens(TokenPair{AccessToken: "a"}))
	ctx := context.Background()

	var apiErr *APIError
	err := c.Do(ctx, http.MethodGet, "/not-ok", nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "quiz_finished", apiErr.Code)
	assert.Equal(t, "quiz_finished: quiz is over", apiErr.Error())
	assert.NotErrorIs(t, err, ErrUnauthorized)

	err = c.Do(ctx, http.MethodGet, "/plain-500", nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "HTTP 500: Internal Server Error", apiErr.Error())

	err = c.Do(ctx, http.MethodGet, "/garbage", nil, nil)
	require.Error(t, err)
	assert.False(t, errors.As(err, &apiErr))
}
