// Package quizzly provides the Go SDK for the Quizzly quiz backend.
//
// It covers the REST calls the realtime layer depends on (token refresh,
// connection tickets, results) and a realtime SessionClient that keeps one
// live connection to a running quiz with heartbeats and bounded reconnects.
//
// Example:
//
//	client := quizzly.NewClient(quizzly.WithTokens(tokens))
//
//	session, _ := quizzly.NewSessionClient(client.Tickets, client.Credentials(),
//		quizzly.NewWSDialer(client.WSURL(), nil), quizzly.DefaultRealtimeConfig())
//	defer session.Close()
//
//	_ = session.Connect(ctx, 42)
//	for ev := range session.Events().C {
//		fmt.Println(ev.Type)
//	}
package quizzly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.quizzly.app",
	Staging:    "https://api.staging.quizzly.app",
}

const (
	DefaultBaseURL = "https://api.quizzly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	logger     zerolog.Logger

	Auth     *AuthClient
	Tickets  *TicketsClient
	Sessions *SessionsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithCredentials uses an existing credential source, e.g. one shared with
// another client.
func WithCredentials(src CredentialSource) ClientOption {
	return func(c *Client) { c.creds = src }
}

// WithTokens seeds a new Credentials whose refresh goes through this client.
func WithTokens(tokens TokenPair, opts ...CredentialsOption) ClientOption {
	return func(c *Client) {
		c.creds = NewCredentials(tokens, c.Auth.Refresh, opts...)
	}
}

// NewClient creates a new Quizzly REST client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}
	c.Auth = &AuthClient{client: c}
	c.Tickets = &TicketsClient{client: c}
	c.Sessions = &SessionsClient{client: c}

	for _, opt := range opts {
		opt(c)
	}
	if c.creds == nil {
		c.creds = NewCredentials(TokenPair{}, c.Auth.Refresh)
	}
	return c
}

// Credentials returns the credential source shared with realtime clients.
func (c *Client) Credentials() CredentialSource {
	return c.creds
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WSURL returns the realtime endpoint derived from the base URL.
func (c *Client) WSURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string, token string) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request")
	return resp.StatusCode, data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// call performs one request and turns non-2xx or ok=false responses into *APIError.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, query map[string]string, token string) (*APIResult, error) {
	status, data, err := c.doRequest(ctx, method, path, body, query, token)
	if err != nil {
		return nil, err
	}

	result, decodeErr := decodeJSON[APIResult](data)
	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status, Message: http.StatusText(status)}
		if decodeErr == nil && result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if !result.OK {
		apiErr := &APIError{Status: status, Message: "request failed"}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return nil, apiErr
	}
	return result, nil
}

// authed performs a bearer-authenticated request. On 401 it refreshes through
// the shared credential source and retries once.
func (c *Client) authed(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	token, ok := c.creds.AccessToken()
	if !ok {
		tokens, err := c.creds.RefreshTokens(ctx)
		if err != nil {
			return nil, err
		}
		token = tokens.AccessToken
	}

	result, err := c.call(ctx, method, path, body, query, token)
	if !errors.Is(err, ErrUnauthorized) {
		return result, err
	}

	// Another caller may already have rotated the pair.
	if current, ok := c.creds.AccessToken(); ok && current != token {
		token = current
	} else {
		tokens, rerr := c.creds.RefreshTokens(ctx)
		if rerr != nil {
			return nil, rerr
		}
		token = tokens.AccessToken
	}
	return c.call(ctx, method, path, body, query, token)
}

// Do performs an authenticated JSON request and decodes the data field into
// out (which may be nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	result, err := c.authed(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return result.Decode(out)
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient handles bearer token issuance.
type AuthClient struct{ client *Client }

// Login exchanges a username for a token pair. Only development backends
// accept password-less login.
func (a *AuthClient) Login(ctx context.Context, username string) (TokenPair, error) {
	result, err := a.client.call(ctx, http.MethodPost, "/api/auth/login", map[string]string{"username": username}, nil, "")
	if err != nil {
		return TokenPair{}, err
	}
	var tokens TokenPair
	if err := result.Decode(&tokens); err != nil {
		return TokenPair{}, fmt.Errorf("decode tokens: %w", err)
	}
	if c, ok := a.client.creds.(*Credentials); ok {
		c.SetTokens(tokens)
	}
	return tokens, nil
}

// Refresh exchanges a refresh token for a new pair. It is the RefreshFunc
// behind Credentials; call Credentials().RefreshTokens instead of this
// directly so refreshes stay single-flight.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	result, err := a.client.call(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refreshToken}, nil, "")
	if err != nil {
		return TokenPair{}, err
	}
	var tokens TokenPair
	if err := result.Decode(&tokens); err != nil {
		return TokenPair{}, fmt.Errorf("decode tokens: %w", err)
	}
	return tokens, nil
}

// TicketsClient issues realtime connection tickets.
type TicketsClient struct{ client *Client }

// Issue requests a fresh single-use ticket for sessionID. It does not refresh
// on 401; the caller decides (see FetchTicket).
func (t *TicketsClient) Issue(ctx context.Context, sessionID SessionID) (ConnectionTicket, error) {
	token, ok := t.client.creds.AccessToken()
	if !ok {
		return ConnectionTicket{}, &APIError{Status: http.StatusUnauthorized, Code: "token_expired", Message: "no valid access token"}
	}
	result, err := t.client.call(ctx, http.MethodPost, "/api/quizzes/"+sessionID.String()+"/ws-ticket", nil, nil, token)
	if err != nil {
		return ConnectionTicket{}, err
	}
	var ticket ConnectionTicket
	if err := result.Decode(&ticket); err != nil {
		return ConnectionTicket{}, fmt.Errorf("decode ticket: %w", err)
	}
	if ticket.Value == "" {
		return ConnectionTicket{}, fmt.Errorf("decode ticket: empty ticket")
	}
	if ticket.SessionID == 0 {
		ticket.SessionID = sessionID
	}
	if ticket.IssuedAt.IsZero() {
		ticket.IssuedAt = time.Now()
	}
	return ticket, nil
}

// IssueTicket implements TicketIssuer.
func (t *TicketsClient) IssueTicket(ctx context.Context, sessionID SessionID) (ConnectionTicket, error) {
	return t.Issue(ctx, sessionID)
}

// SessionsClient reads quiz session resources.
type SessionsClient struct{ client *Client }

// Results returns the final standings of a finished session.
func (s *SessionsClient) Results(ctx context.Context, sessionID SessionID) (*SessionResults, error) {
	var res SessionResults
	if err := s.client.Do(ctx, http.MethodGet, "/api/quizzes/"+sessionID.String()+"/results", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
