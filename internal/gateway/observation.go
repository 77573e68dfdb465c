package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Observation is the canonical view of one provider-reported payment outcome,
// regardless of whether it came from a webhook or a status poll. RawStatus is
// still in the provider's vocabulary; Payload is the decoded JSON the
// provider reported, retained for audit.
type Observation struct {
	OrderID   string
	RawStatus string
	Payload   json.RawMessage
}

// WebhookEnvelope ties together the bytes the provider actually signed, the
// signature it transmitted, and the decoded payload. The signed bytes are
// kept verbatim: for the base64 envelope shape the provider signs the base64
// string itself, and re-serializing the decoded object would not be
// byte-identical.
type WebhookEnvelope struct {
	SignedBytes []byte
	Signature   string
	Payload     json.RawMessage
}

// DecodeWebhook classifies a raw webhook body into one of the two delivery
// shapes: a flat JSON status object signed via header, or a
// base64-data-plus-signature envelope signed in-body.
func DecodeWebhook(rawBody []byte, headerSignature string) (*WebhookEnvelope, error) {
	var probe struct {
		Data      string `json:"data"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(rawBody, &probe); err != nil {
		return nil, fmt.Errorf("%w: body is not JSON: %v", ErrMalformedWebhook, err)
	}

	if probe.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(probe.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: data field is not base64: %v", ErrMalformedWebhook, err)
		}
		sig := probe.Signature
		if sig == "" {
			sig = headerSignature
		}
		if sig == "" {
			return nil, fmt.Errorf("%w: envelope carries no signature", ErrMalformedWebhook)
		}
		return &WebhookEnvelope{SignedBytes: []byte(probe.Data), Signature: sig, Payload: decoded}, nil
	}

	if headerSignature == "" {
		return nil, fmt.Errorf("%w: no signature header", ErrMalformedWebhook)
	}
	return &WebhookEnvelope{SignedBytes: rawBody, Signature: headerSignature, Payload: rawBody}, nil
}

// ParseObservation extracts the order reference and provider status from a
// verified webhook payload. Provider versions disagree on field names, so the
// known aliases are all accepted.
func ParseObservation(payload []byte) (*Observation, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrMalformedWebhook, err)
	}
	orderID := firstString(fields, "order_id", "orderId", "merchant_order_id", "external_id")
	if orderID == "" {
		return nil, fmt.Errorf("%w: payload names no order", ErrMalformedWebhook)
	}
	status := firstString(fields, "status", "payment_status", "state", "code")
	return &Observation{OrderID: orderID, RawStatus: status, Payload: payload}, nil
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
