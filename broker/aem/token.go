package aem

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/log"
)

// DefaultTokenWindow is how long a fetched token is reused. The declared
// lifetime of the token is not consulted.
const DefaultTokenWindow = 5 * time.Minute

// TokenFetcher obtains a new token on every call.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (string, bool, error)
}

// TokenCache hands out a shared token and refreshes it once the window has
// elapsed. Concurrent callers wait for a single in-flight fetch.
type TokenCache struct {
	fetcher TokenFetcher
	clock   clockwork.Clock
	window  time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache returns a cache over fetcher. A window <= 0 uses
// DefaultTokenWindow and a nil clock uses the real clock.
func NewTokenCache(fetcher TokenFetcher, window time.Duration, clock clockwork.Clock) *TokenCache {
	if window <= 0 {
		window = DefaultTokenWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenCache{fetcher: fetcher, clock: clock, window: window}
}

// Token returns the cached token, fetching a new one when none was fetched
// yet or the window has elapsed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.token != "" && now.Before(c.expiry) {
		return c.token, nil
	}

	log.Debug("token expired or missing, fetching a new one")
	token, ok, err := c.fetcher.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", client.NewServiceError("token response did not contain an access_token")
	}

	c.token = token
	c.expiry = now.Add(c.window)
	return token, nil
}

// Invalidate forces the next Token call to fetch.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}
