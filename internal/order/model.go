package order

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the canonical payment status vocabulary. Provider-specific codes
// are mapped onto it before the reconciliation rules run.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the status is write-once: once an order lands on a
// terminal status no later observation may move it.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Source identifies which surface produced an observation. The store records
// webhook payloads and poll responses in separate audit columns.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// ErrUnknownOrder is returned when an observation or query references an order
// id the store has no record of.
var ErrUnknownOrder = errors.New("unknown order id")

// ErrInvalidAmount rejects non-positive order totals before anything reaches
// the gateway or the store.
var ErrInvalidAmount = errors.New("order total must be a positive amount")

// Order is one merchant payment transaction tracked end-to-end by ID.
// Amount, Items, Table and SessionID are immutable after creation; Status only
// moves through the reconciliation rules.
type Order struct {
	ID        string          `json:"orderId"`
	Amount    float64         `json:"amount"`
	Items     json.RawMessage `json:"items,omitempty"`
	Table     string          `json:"table,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Status    Status          `json:"status"`

	// Raw provider payloads, retained for audit and debugging. Response holds
	// the last create/poll response, Callback the last webhook delivery.
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
	ProviderCallback json.RawMessage `json:"providerCallback,omitempty"`

	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastStatusCheckAt *time.Time `json:"lastStatusCheckAt,omitempty"`
}
