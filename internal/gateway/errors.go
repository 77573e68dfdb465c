package gateway

import (
	"errors"
	"fmt"
)

// ErrAuth covers credential-exchange failures and auth rejections that
// survived the single automatic refresh-and-retry. Callers decide whether to
// re-attempt.
var ErrAuth = errors.New("gateway authentication failed")

// ErrSignature marks a webhook whose signature did not verify. Nothing past
// the boundary may run for such a delivery.
var ErrSignature = errors.New("webhook signature mismatch")

// ErrMalformedWebhook marks a delivery whose payload cannot be attributed to
// an order (bad JSON, bad base64 envelope, no order reference, no signature).
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// ProviderError is any non-2xx or structurally unusable gateway response.
// Raw retains the exact response body so the caller can echo it for
// diagnostics. Provider errors are never retried automatically: re-issuing a
// create call could open a duplicate order on the gateway side.
type ProviderError struct {
	Op         string
	StatusCode int
	Raw        []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gateway %s failed with status %d", e.Op, e.StatusCode)
}
