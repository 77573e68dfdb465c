package order

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/events"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
)

// memStore implements Store with the same compare-and-set semantics the
// Postgres adapter provides, serialized under one mutex.
type memStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	// casCount tracks committed status writes to assert idempotency.
	casCount int
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*Order)}
}

func (m *memStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateStatusCAS(_ context.Context, orderID string, from, to Status, source Source, raw []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, ErrUnknownOrder
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	m.record(o, source, raw)
	m.casCount++
	return true, nil
}

func (m *memStore) RecordObservation(_ context.Context, orderID string, source Source, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	m.record(o, source, raw)
	return nil
}

func (m *memStore) record(o *Order, source Source, raw []byte) {
	switch source {
	case SourcePoll:
		o.ProviderResponse = raw
		now := time.Now().UTC()
		o.LastStatusCheckAt = &now
	default:
		o.ProviderCallback = raw
	}
}

func (m *memStore) List(_ context.Context, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) status(t *testing.T, orderID string) Status {
	t.Helper()
	o, err := m.Get(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

type fakeGateway struct {
	mu          sync.Mutex
	createErr   error
	queryStatus string
	queryErr    error
	queryCalls  int
}

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.CreateOrderResult{
		CheckoutURL:     "https://pay.example/" + req.OrderID,
		ProviderOrderID: "prov-" + req.OrderID,
		Raw:             []byte(`{"checkout_url":"https://pay.example/` + req.OrderID + `"}`),
	}, nil
}

func (f *fakeGateway) QueryStatus(_ context.Context, _ string) (*gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &gateway.StatusResult{Status: f.queryStatus, Raw: []byte(`{"status":"` + f.queryStatus + `"}`)}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	envelope []events.Envelope
}

func (f *fakePublisher) Publish(_ context.Context, _, _ string, evt events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelope = append(f.envelope, evt)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.envelope {
		out = append(out, e.EventType)
	}
	return out
}

func newTestService(store Store, gw Gateway, pub Publisher) *Service {
	return NewService(store, gw, pub, "payments.v1", time.Second)
}

func webhookObs(orderID, status string) *gateway.Observation {
	payload, _ := json.Marshal(map[string]string{"order_id": orderID, "status": status})
	return &gateway.Observation{OrderID: orderID, RawStatus: status, Payload: payload}
}

func TestCreateRejectsNonPositiveTotal(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{}, nil)
	for _, total := range []float64{0, -1, -0.01} {
		_, err := svc.Create(context.Background(), CreateInput{Total: total})
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestCreatePersistsPendingRecord(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeGateway{}, pub)

	res, err := svc.Create(context.Background(), CreateInput{
		Total:     150.00,
		Items:     json.RawMessage(`[{"name":"espresso","qty":2}]`),
		Table:     "12",
		SessionID: "sess-9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)
	assert.Contains(t, res.CheckoutURL, res.OrderID)

	ord, err := store.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, ord.Status)
	assert.Equal(t, 150.00, ord.Amount)
	assert.Equal(t, "12", ord.Table)
	assert.NotEmpty(t, ord.ProviderResponse)
	assert.Equal(t, []string{events.TypeOrderCreated}, pub.types())
}

func TestCreateDoesNotPersistOnGatewayFailure(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{createErr: &gateway.ProviderError{Op: "create order", StatusCode: 422, Raw: []byte(`{"error":"nope"}`)}}
	svc := newTestService(store, gw, nil)

	_, err := svc.Create(context.Background(), CreateInput{Total: 10})
	var pe *gateway.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, store.orders)
}

func TestWebhookSuccessScenario(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeGateway{}, pub)

	res, err := svc.Create(context.Background(), CreateInput{Total: 150.00})
	require.NoError(t, err)

	ord, err := svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "PAID"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, ord.Status)
	assert.Equal(t, StatusSuccess, store.status(t, res.OrderID))

	// Poll after the terminal commit returns SUCCESS without a provider call.
	got, err := svc.Status(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, []string{events.TypeOrderCreated, events.TypePaymentSucceeded}, pub.types())
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{}, nil)

	res, err := svc.Create(context.Background(), CreateInput{Total: 42})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ord, err := svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "PAID"))
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, ord.Status)
	}
	assert.Equal(t, StatusSuccess, store.status(t, res.OrderID))
	assert.Equal(t, 1, store.casCount, "status must be written exactly once")
}

func TestTerminalStateIsNeverOverwritten(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeGateway{}, pub)

	res, err := svc.Create(context.Background(), CreateInput{Total: 42})
	require.NoError(t, err)

	_, err = svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "PAID"))
	require.NoError(t, err)

	// Delayed disagreeing webhook: recorded, suppressed, status unchanged.
	ord, err := svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "EXPIRED"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, ord.Status)
	assert.Equal(t, StatusSuccess, store.status(t, res.OrderID))
	assert.Contains(t, pub.types(), events.TypeObservationSuppressed)
}

func TestConcurrentConflictingObservations(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMemStore()
		svc := newTestService(store, &fakeGateway{}, nil)
		res, err := svc.Create(context.Background(), CreateInput{Total: 42})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, status := range []string{"PAID", "FAILED"} {
			wg.Add(1)
			go func(status string) {
				defer wg.Done()
				_, _ = svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, status))
			}(status)
		}
		wg.Wait()

		landed := store.status(t, res.OrderID)
		require.True(t, landed.Terminal(), "racing terminal observations must land terminal, got %s", landed)

		// Whichever terminal status committed first must hold.
		_, err = svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "PAID"))
		require.NoError(t, err)
		_, err = svc.HandleWebhook(context.Background(), webhookObs(res.OrderID, "FAILED"))
		require.NoError(t, err)
		assert.Equal(t, landed, store.status(t, res.OrderID))
	}
}

func TestWebhookForUnknownOrder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{}, nil)

	_, err := svc.HandleWebhook(context.Background(), webhookObs("no-such-order", "PAID"))
	require.ErrorIs(t, err, ErrUnknownOrder)
	assert.Empty(t, store.orders, "no record may be created as a side effect")
}

func TestStatusRefreshesPendingOrderFromGateway(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{queryStatus: "PAID"}
	svc := newTestService(store, gw, nil)

	res, err := svc.Create(context.Background(), CreateInput{Total: 42})
	require.NoError(t, err)

	ord, err := svc.Status(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, ord.Status)
	assert.NotNil(t, ord.LastStatusCheckAt)
	assert.Equal(t, 1, gw.queryCalls)
}

func TestStatusFallsBackWhenGatewayUnreachable(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{queryErr: errors.New("dial timeout")}
	svc := newTestService(store, gw, nil)

	res, err := svc.Create(context.Background(), CreateInput{Total: 42})
	require.NoError(t, err)

	ord, err := svc.Status(context.Background(), res.OrderID)
	require.NoError(t, err, "a provider failure must never surface on a poll")
	assert.Equal(t, StatusPending, ord.Status)
}

func TestStatusUnknownOrder(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{}, nil)
	_, err := svc.Status(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestStatusPendingPollIsNoOp(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{queryStatus: "PROCESSING"}
	svc := newTestService(store, gw, nil)

	res, err := svc.Create(context.Background(), CreateInput{Total: 42})
	require.NoError(t, err)

	ord, err := svc.Status(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, ord.Status)
	assert.Equal(t, 0, store.casCount, "a pending poll result must not rewrite status")
	assert.NotNil(t, ord.LastStatusCheckAt)
}
