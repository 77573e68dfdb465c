package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Verifier authenticates an inbound webhook against the signature the
// provider sent. Verification is a pure function over the exact bytes the
// provider signed and runs strictly before any state mutation. All
// comparisons are constant-time.
type Verifier interface {
	Verify(signedBytes []byte, signature string) bool
}

// HMACVerifier checks an HMAC-SHA256 digest over the signed bytes. Providers
// transmit the digest as hex or base64 depending on API version, so both
// encodings are accepted.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(signedBytes []byte, signature string) bool {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(signedBytes)
	return digestMatches(mac.Sum(nil), signature)
}

// SaltedVerifier checks the salted-hash scheme: SHA-256 of salt+payload+salt,
// where payload is the base64 envelope string exactly as transmitted.
// Multiple salts are accepted to allow rotation; the provider's salt index
// selects among them but any configured salt verifies.
type SaltedVerifier struct {
	salts []string
}

func NewSaltedVerifier(salts []string) *SaltedVerifier {
	return &SaltedVerifier{salts: salts}
}

func (v *SaltedVerifier) Verify(signedBytes []byte, signature string) bool {
	ok := false
	for _, salt := range v.salts {
		sum := sha256.Sum256([]byte(salt + string(signedBytes) + salt))
		if digestMatches(sum[:], signature) {
			ok = true
		}
	}
	return ok
}

// digestMatches compares an expected digest against a transmitted signature
// in either hex or base64 encoding without leaking timing.
func digestMatches(sum []byte, signature string) bool {
	if decoded, err := hex.DecodeString(signature); err == nil {
		if subtle.ConstantTimeCompare(decoded, sum) == 1 {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if subtle.ConstantTimeCompare(decoded, sum) == 1 {
			return true
		}
	}
	return false
}
