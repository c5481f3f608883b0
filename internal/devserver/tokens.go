package devserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

var (
	errInvalidToken   = errors.New("invalid token")
	errUnknownRefresh = errors.New("unknown refresh token")
)

// tokenStore signs access tokens and tracks rotating refresh tokens. An
// access token is valid while it verifies, has not expired, and its id has
// not been revoked.
type tokenStore struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	access  map[string]string // jti -> username
	refresh map[string]string // refresh token -> username
}

func newTokenStore(secret []byte, ttl time.Duration, clock clockwork.Clock) *tokenStore {
	return &tokenStore{
		secret:  secret,
		ttl:     ttl,
		clock:   clock,
		access:  make(map[string]string),
		refresh: make(map[string]string),
	}
}

func (s *tokenStore) issue(username string) (quizzly.TokenPair, error) {
	now := s.clock.Now()
	jti := uuid.NewString()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return quizzly.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.access[jti] = username
	s.refresh[refresh] = username
	s.mu.Unlock()
	return quizzly.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// rotate redeems a refresh token. The presented token is invalidated.
func (s *tokenStore) rotate(refresh string) (quizzly.TokenPair, error) {
	s.mu.Lock()
	username, ok := s.refresh[refresh]
	delete(s.refresh, refresh)
	s.mu.Unlock()
	if !ok {
		return quizzly.TokenPair{}, errUnknownRefresh
	}
	return s.issue(username)
}

// verify returns the username behind a valid access token.
func (s *tokenStore) verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.access[claims.ID]
	if !ok {
		return "", fmt.Errorf("%w: revoked", errInvalidToken)
	}
	return username, nil
}

// revokeAccess invalidates every outstanding access token. Refresh tokens
// stay valid.
func (s *tokenStore) revokeAccess() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.access)
	s.access = make(map[string]string)
	return n
}
