package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig carries the gateway endpoints and the merchant-side URLs the
// gateway redirects or calls back to.
type ClientConfig struct {
	BaseURL     string
	CallbackURL string
	SuccessURL  string
	FailureURL  string
}

// CreateOrderRequest is the merchant side of an order-creation call. Amounts
// cross the gateway boundary in minor units.
type CreateOrderRequest struct {
	OrderID     string
	AmountMinor int64
	Description string
}

// CreateOrderResult is the usable part of a successful creation response plus
// the raw body for audit.
type CreateOrderResult struct {
	CheckoutURL     string
	ProviderOrderID string
	Raw             []byte
}

// StatusResult is one status observation from the gateway's query endpoint.
// Status is still in the provider's vocabulary; mapping happens downstream.
type StatusResult struct {
	Status string
	Raw    []byte
}

// Client is the thin adapter issuing create-order and query-status calls.
type Client struct {
	cfg        ClientConfig
	auth       RequestAuth
	httpClient *http.Client
}

func NewClient(cfg ClientConfig, auth RequestAuth, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{cfg: cfg, auth: auth, httpClient: httpClient}
}

// CreateOrder opens a checkout on the gateway. A response without a checkout
// URL is as much a failure as a non-2xx status.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	payload := map[string]any{
		"merchant_order_id":    req.OrderID,
		"amount":               req.AmountMinor,
		"description":          req.Description,
		"callback_url":         c.cfg.CallbackURL,
		"success_redirect_url": c.cfg.SuccessURL,
		"failure_redirect_url": c.cfg.FailureURL,
	}
	body, _ := json.Marshal(payload)

	raw, err := c.do(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return nil, err
	}

	var out struct {
		ID          string `json:"id"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.CheckoutURL == "" {
		return nil, &ProviderError{Op: "create order", StatusCode: http.StatusOK, Raw: raw}
	}
	return &CreateOrderResult{CheckoutURL: out.CheckoutURL, ProviderOrderID: out.ID, Raw: raw}, nil
}

// QueryStatus fetches the gateway-side status of an order.
func (c *Client) QueryStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/status", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Status == "" {
		return nil, &ProviderError{Op: "query status", StatusCode: http.StatusOK, Raw: raw}
	}
	return &StatusResult{Status: out.Status, Raw: raw}, nil
}

// do issues one authenticated request. An auth rejection invalidates the
// cached credential and retries exactly once; a second rejection surfaces as
// ErrAuth. Any other non-2xx response becomes a ProviderError with the raw
// body attached.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	raw, status, err := c.attempt(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if !c.auth.OnUnauthorized() {
			return nil, fmt.Errorf("%w: gateway rejected credentials (status %d)", ErrAuth, status)
		}
		log.Printf("[Gateway] credentials rejected (status %d) on %s %s, retrying once with fresh token", status, method, path)
		raw, status, err = c.attempt(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, fmt.Errorf("%w: gateway rejected refreshed credentials (status %d)", ErrAuth, status)
		}
	}
	if status < 200 || status >= 300 {
		return nil, &ProviderError{Op: method + " " + path, StatusCode: status, Raw: raw}
	}
	return raw, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build gateway request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Apply(ctx, req, body); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read gateway response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
