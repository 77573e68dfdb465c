package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expiryMargin is subtracted from the provider-reported token lifetime so a
// token close to expiry is never presented against the provider's own clock.
const expiryMargin = 60 * time.Second

// CredentialCache owns the short-lived bearer token for the gateway. A cached,
// unexpired token is returned without any network call; otherwise one
// credential exchange runs and every concurrent caller shares its result.
type CredentialCache struct {
	authURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
}

func NewCredentialCache(authURL, clientID, clientSecret string, httpClient *http.Client) *CredentialCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &CredentialCache{
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Token returns the cached bearer token, running a credential exchange when
// none is cached or the cached one expired. The exchange itself is detached
// from the caller's context: a caller that times out stops waiting, but the
// shared refresh keeps going for the other waiters.
func (c *CredentialCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan("token", func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token so the next Token call performs a fresh
// exchange. The client calls this when the gateway rejects a token it was
// just handed.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *CredentialCache) exchange(ctx context.Context) (string, error) {
	// Another waiter may have finished a refresh while this call queued on the
	// singleflight group.
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]any{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build exchange request: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: exchange returned status %d", ErrAuth, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode exchange response: %v", ErrAuth, err)
	}
	tok := out.AccessToken
	if tok == "" {
		tok = out.Token
	}
	if tok == "" {
		return "", fmt.Errorf("%w: exchange response carries no token", ErrAuth)
	}

	remaining := time.Duration(out.ExpiresIn)*time.Second - expiryMargin
	if remaining < 0 {
		// Token is usable for this call but too short-lived to cache.
		remaining = 0
	}

	c.mu.Lock()
	c.token = tok
	c.expiresAt = c.now().Add(remaining)
	c.mu.Unlock()
	log.Printf("[Credentials] token refreshed, cached for %s", remaining)
	return tok, nil
}
