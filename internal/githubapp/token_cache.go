package githubapp

import (
	"sync"
	"time"
)

// tokenSafetyMargin invalidates cached tokens this long before their
// advertised expiry so in-flight requests never carry a dying token.
const tokenSafetyMargin = 60 * time.Second

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenCache caches installation access tokens keyed by installation id.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[int64]cachedToken
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[int64]cachedToken)}
}

// Get returns a cached token that is still comfortably inside its validity
// window.
func (c *TokenCache) Get(installationID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tokens[installationID]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt.Add(-tokenSafetyMargin)) {
		delete(c.tokens, installationID)
		return "", false
	}
	return entry.token, true
}

// Set stores a freshly minted token.
func (c *TokenCache) Set(installationID int64, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[installationID] = cachedToken{token: token, expiresAt: expiresAt}
}

// Invalidate drops a token, forcing re-authentication on next use.
func (c *TokenCache) Invalidate(installationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, installationID)
}
