// Package sts obtains and caches the bearer credential used against the
// income registry. The token is process-wide shared state; all concurrent
// lookups observe the same value and a refresh happens at most once.
package sts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const tokenPath = "/rest/v1/sts/token?grant_type=client_credentials&scope=openid"

// refreshMargin renews the token slightly before its stated expiry so an
// in-flight lookup never presents a token that lapses mid-request.
const refreshMargin = 30 * time.Second

// AuthError reports a failed token acquisition. It blocks every lookup, so
// the engine logs it at an elevated level.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token acquisition failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ServiceUser holds the basic-auth credentials for the identity endpoint.
type ServiceUser struct {
	Username string
	Password string
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Client fetches tokens from the identity endpoint and caches them until
// shortly before expiry. Safe for concurrent use.
type Client struct {
	baseURL   string
	user      ServiceUser
	httpc     *http.Client
	now       func() time.Time
	onRefresh func()

	mu     sync.RWMutex
	cached cachedToken
	flight singleflight.Group
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithRefreshHook registers a callback invoked after every successful
// refresh, used to feed the refresh counter metric.
func WithRefreshHook(hook func()) Option {
	return func(c *Client) {
		c.onRefresh = hook
	}
}

func New(baseURL string, user ServiceUser, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		user:    user,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// value is missing or about to expire. Concurrent callers during a refresh
// share a single request to the identity endpoint.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached.value != "" && c.now().Before(cached.expiresAt.Add(-refreshMargin)) {
		return cached.value, nil
	}

	value, err, _ := c.flight.Do("token", func() (any, error) {
		// Recheck under the flight: a racing caller may have refreshed
		// between the cache miss and winning the flight slot.
		c.mu.RLock()
		cached := c.cached
		c.mu.RUnlock()
		if cached.value != "" && c.now().Before(cached.expiresAt.Add(-refreshMargin)) {
			return cached.value, nil
		}

		fresh, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.cached = fresh
		c.mu.Unlock()
		if c.onRefresh != nil {
			c.onRefresh()
		}
		return fresh.value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *Client) fetch(ctx context.Context) (cachedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return cachedToken{}, &AuthError{Err: err}
	}
	req.SetBasicAuth(c.user.Username, c.user.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return cachedToken{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedToken{}, &AuthError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, &AuthError{Err: fmt.Errorf("identity endpoint returned %d: %s", resp.StatusCode, body)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return cachedToken{}, &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if parsed.AccessToken == "" {
		return cachedToken{}, &AuthError{Err: fmt.Errorf("token response missing access_token")}
	}

	return cachedToken{
		value:     parsed.AccessToken,
		expiresAt: c.expiry(parsed),
	}, nil
}

// expiry prefers the advertised expires_in. Some identity endpoints omit
// it; the token itself is a JWT there, so fall back to its exp claim. The
// claim is read without signature verification since the value only drives
// our own refresh schedule.
func (c *Client) expiry(resp tokenResponse) time.Time {
	if resp.ExpiresIn > 0 {
		return c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	// Opaque token with no advertised lifetime: treat it as short-lived.
	return c.now().Add(time.Minute)
}
