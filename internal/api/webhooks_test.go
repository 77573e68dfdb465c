package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/order"
)

const testSecret = "webhook-secret"

// memStore is an in-memory order.Store with real compare-and-set semantics.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	casCalls int
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*order.Order)}
}

func (m *memStore) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, order.ErrUnknownOrder
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateStatusCAS(_ context.Context, orderID string, from, to order.Status, source order.Source, raw []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	o, ok := m.orders[orderID]
	if !ok {
		return false, order.ErrUnknownOrder
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	if source == order.SourceWebhook {
		o.ProviderCallback = raw
	} else {
		o.ProviderResponse = raw
	}
	return true, nil
}

func (m *memStore) RecordObservation(_ context.Context, orderID string, source order.Source, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrUnknownOrder
	}
	if source == order.SourceWebhook {
		o.ProviderCallback = raw
	} else {
		o.ProviderResponse = raw
	}
	return nil
}

func (m *memStore) List(_ context.Context, limit int) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) status(t *testing.T, orderID string) order.Status {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	require.True(t, ok)
	return o.Status
}

type fakeGateway struct {
	createRes *gateway.CreateOrderResult
	createErr error
	statusRes *gateway.StatusResult
	statusErr error
}

func (f *fakeGateway) CreateOrder(context.Context, gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	return f.createRes, f.createErr
}

func (f *fakeGateway) QueryStatus(context.Context, string) (*gateway.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusRes, nil
}

func newTestMux(store *memStore, gw *fakeGateway) *http.ServeMux {
	svc := order.NewService(store, gw, nil, "payments", time.Second)
	mux := http.NewServeMux()
	RegisterOrdersRoutes(mux, svc)
	RegisterWebhookRoutes(mux, gateway.NewHMACVerifier(testSecret), svc)
	return mux
}

func seedPending(store *memStore, orderID string) {
	_ = store.Create(context.Background(), &order.Order{
		ID:     orderID,
		Amount: 150.00,
		Status: order.StatusPending,
	})
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(mux *http.ServeMux, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCommitsVerifiedObservation(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	mux := newTestMux(store, &fakeGateway{})

	body := []byte(`{"order_id":"ord-1","status":"PAID"}`)
	rec := postWebhook(mux, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp["status"])
	assert.Equal(t, "SUCCESS", resp["orderStatus"])
	assert.Equal(t, order.StatusSuccess, store.status(t, "ord-1"))
}

func TestWebhookTamperedPayloadIsRejectedBeforeAnyWrite(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	mux := newTestMux(store, &fakeGateway{})

	signed := []byte(`{"order_id":"ord-1","status":"FAILED"}`)
	tampered := []byte(`{"order_id":"ord-1","status":"PAID"}`)
	rec := postWebhook(mux, tampered, signBody(signed))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, order.StatusPending, store.status(t, "ord-1"))
	assert.Zero(t, store.casCalls, "rejected deliveries must not touch the store")
}

func TestWebhookMissingSignatureIsMalformed(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	mux := newTestMux(store, &fakeGateway{})

	rec := postWebhook(mux, []byte(`{"order_id":"ord-1","status":"PAID"}`), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, order.StatusPending, store.status(t, "ord-1"))
}

func TestWebhookUnknownOrderIsRejectedWithoutStateAction(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, &fakeGateway{})

	body := []byte(`{"order_id":"ghost","status":"PAID"}`)
	rec := postWebhook(mux, body, signBody(body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.casCalls)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	mux := newTestMux(store, &fakeGateway{})

	body := []byte(`{"order_id":"ord-1","status":"PAID"}`)
	first := postWebhook(mux, body, signBody(body))
	second := postWebhook(mux, body, signBody(body))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, order.StatusSuccess, store.status(t, "ord-1"))
	assert.Equal(t, 1, store.casCalls, "the redelivery must not write a second transition")
}

func TestWebhookConflictingObservationIsSuppressed(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	mux := newTestMux(store, &fakeGateway{})

	paid := []byte(`{"order_id":"ord-1","status":"PAID"}`)
	failed := []byte(`{"order_id":"ord-1","status":"FAILED"}`)

	require.Equal(t, http.StatusOK, postWebhook(mux, paid, signBody(paid)).Code)
	rec := postWebhook(mux, failed, signBody(failed))

	// The conflicting delivery is acknowledged so the provider stops
	// retrying, but the stored outcome stands.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp["orderStatus"])
	assert.Equal(t, order.StatusSuccess, store.status(t, "ord-1"))
}

func TestWebhookStoreFailureIsServerError(t *testing.T) {
	store := newMemStore()
	seedPending(store, "ord-1")
	svc := order.NewService(failingCASStore{store}, &fakeGateway{}, nil, "payments", time.Second)
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, gateway.NewHMACVerifier(testSecret), svc)

	body := []byte(`{"order_id":"ord-1","status":"PAID"}`)
	rec := postWebhook(mux, body, signBody(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookRejectsNonPost(t *testing.T) {
	mux := newTestMux(newMemStore(), &fakeGateway{})
	req := httptest.NewRequest(http.MethodGet, "/api/webhook", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// failingCASStore wraps memStore and fails every status write.
type failingCASStore struct {
	*memStore
}

func (failingCASStore) UpdateStatusCAS(context.Context, string, order.Status, order.Status, order.Source, []byte) (bool, error) {
	return false, errors.New("connection reset by peer")
}
