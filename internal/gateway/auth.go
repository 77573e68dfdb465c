package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
)

// RequestAuth produces the header(s) needed to authenticate one outbound
// request body toward the gateway. The strategy is selected once at startup
// from configuration; it is never probed per request, and a failed attempt is
// never silently re-issued under a different scheme.
type RequestAuth interface {
	Apply(ctx context.Context, req *http.Request, body []byte) error
	// OnUnauthorized runs when the gateway rejects the credentials and
	// reports whether one automatic retry can help.
	OnUnauthorized() bool
}

// bearerAuth attaches a cached bearer token obtained through the credential
// cache. A rejection invalidates the cache so the retry fetches a fresh token.
type bearerAuth struct {
	cache *CredentialCache
}

func NewBearerAuth(cache *CredentialCache) RequestAuth {
	return &bearerAuth{cache: cache}
}

func (b *bearerAuth) Apply(ctx context.Context, req *http.Request, _ []byte) error {
	tok, err := b.cache.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (b *bearerAuth) OnUnauthorized() bool {
	b.cache.Invalidate()
	return true
}

// signedAuth signs each request body with the static merchant secret. There
// is no token to refresh, so a rejection is final.
type signedAuth struct {
	merchantID string
	secret     []byte
}

func NewSignedAuth(merchantID, secret string) RequestAuth {
	return &signedAuth{merchantID: merchantID, secret: []byte(secret)}
}

func (s *signedAuth) Apply(_ context.Context, req *http.Request, body []byte) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	req.Header.Set("X-Merchant-Id", s.merchantID)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return nil
}

func (s *signedAuth) OnUnauthorized() bool { return false }
