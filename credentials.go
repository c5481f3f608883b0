package quizzly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Credential Source
// ============================================================================

// CredentialSource exposes the bearer token pair shared by the REST and
// realtime clients. RefreshTokens must be safe to call concurrently and must
// coalesce concurrent callers into a single refresh.
type CredentialSource interface {
	// AccessToken returns the current access token, or false when none is
	// available or it is known to be expired.
	AccessToken() (string, bool)
	RefreshTokens(ctx context.Context) (TokenPair, error)
}

// RefreshFunc exchanges a refresh token for a new pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// DefaultRefreshTimeout bounds one shared refresh call.
const DefaultRefreshTimeout = 30 * time.Second

// Credentials is a goroutine-safe CredentialSource with single-flight refresh.
type Credentials struct {
	mu     sync.RWMutex
	tokens TokenPair

	refresh   RefreshFunc
	group     singleflight.Group
	clock     clockwork.Clock
	leeway    time.Duration
	timeout   time.Duration
	onRefresh func(TokenPair)
}

// CredentialsOption customizes Credentials.
type CredentialsOption func(*Credentials)

// WithCredentialsClock sets the clock used for expiry checks.
func WithCredentialsClock(clock clockwork.Clock) CredentialsOption {
	return func(c *Credentials) { c.clock = clock }
}

// WithExpiryLeeway treats access tokens expiring within d as already expired.
func WithExpiryLeeway(d time.Duration) CredentialsOption {
	return func(c *Credentials) { c.leeway = d }
}

// WithRefreshTimeout bounds each shared refresh call.
func WithRefreshTimeout(d time.Duration) CredentialsOption {
	return func(c *Credentials) { c.timeout = d }
}

// OnRefresh registers a callback invoked with every newly refreshed pair,
// e.g. to persist rotated tokens.
func OnRefresh(fn func(TokenPair)) CredentialsOption {
	return func(c *Credentials) { c.onRefresh = fn }
}

// NewCredentials creates a credential source seeded with tokens.
func NewCredentials(tokens TokenPair, refresh RefreshFunc, opts ...CredentialsOption) *Credentials {
	c := &Credentials{
		tokens:  tokens,
		refresh: refresh,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns a copy of the current pair.
func (c *Credentials) Tokens() TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SetTokens replaces the current pair, e.g. after login.
func (c *Credentials) SetTokens(tokens TokenPair) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

// AccessToken implements CredentialSource. Tokens that are not JWTs are
// returned as-is; JWTs whose exp has passed are reported as unavailable.
func (c *Credentials) AccessToken() (string, bool) {
	c.mu.RLock()
	token := c.tokens.AccessToken
	c.mu.RUnlock()

	if token == "" {
		return "", false
	}
	if exp, ok := TokenExpiry(token); ok && !c.clock.Now().Add(c.leeway).Before(exp) {
		return "", false
	}
	return token, true
}

// RefreshTokens implements CredentialSource. Concurrent callers share one
// in-flight refresh; each caller stops waiting when its own ctx ends.
func (c *Credentials) RefreshTokens(ctx context.Context) (TokenPair, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.doRefresh(callCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	}
}

func (c *Credentials) doRefresh(ctx context.Context) (TokenPair, error) {
	c.mu.RLock()
	refreshToken := c.tokens.RefreshToken
	c.mu.RUnlock()

	if refreshToken == "" || c.refresh == nil {
		return TokenPair{}, ErrNoCredentials
	}

	tokens, err := c.refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// The refresh token was rejected; nothing left to retry with.
			c.mu.Lock()
			if c.tokens.RefreshToken == refreshToken {
				c.tokens = TokenPair{}
			}
			c.mu.Unlock()
			return TokenPair{}, fmt.Errorf("refresh tokens: %w: %w", ErrNoCredentials, err)
		}
		return TokenPair{}, fmt.Errorf("refresh tokens: %w", err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()

	if c.onRefresh != nil {
		c.onRefresh(tokens)
	}
	return tokens, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
