package order

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/events"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
)

// Store is the persistence contract for order records. Only this package
// writes the status column, and only through UpdateStatusCAS: the update
// commits solely when the stored status still equals the one the decision was
// made against, which is what keeps racing observations serialized.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	// UpdateStatusCAS moves status from->to and records the raw observation.
	// It reports false without error when the stored status no longer equals
	// 'from' (a concurrent observation won).
	UpdateStatusCAS(ctx context.Context, orderID string, from, to Status, source Source, raw []byte) (bool, error)
	// RecordObservation persists the raw payload of an observation that
	// produced no status change (audit trail, poll freshness stamp).
	RecordObservation(ctx context.Context, orderID string, source Source, raw []byte) error
	List(ctx context.Context, limit int) ([]*Order, error)
}

// Gateway is the subset of the provider client the service needs.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
	QueryStatus(ctx context.Context, orderID string) (*gateway.StatusResult, error)
}

// Publisher emits audit events after reconciliation commits. Publication is
// best-effort; a broker outage never fails the request.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, evt events.Envelope) error
}

// Service orchestrates order creation, webhook application and status polls
// around the reconciliation rules.
type Service struct {
	store       Store
	gateway     Gateway
	producer    Publisher
	topic       string
	pollTimeout time.Duration
	now         func() time.Time
}

func NewService(store Store, gw Gateway, producer Publisher, topic string, pollTimeout time.Duration) *Service {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Service{
		store:       store,
		gateway:     gw,
		producer:    producer,
		topic:       topic,
		pollTimeout: pollTimeout,
		now:         time.Now,
	}
}

// CreateInput is a validated create-order request from the merchant app.
// Items, Table and SessionID are opaque merchant metadata.
type CreateInput struct {
	Items     json.RawMessage
	Total     float64
	Table     string
	SessionID string
}

// CreateResult is what the merchant app needs to send the customer to pay.
type CreateResult struct {
	OrderID     string
	CheckoutURL string
}

// Create opens an order on the gateway and persists the initial PENDING
// record. The orderId is generated merchant-side so the record and the
// gateway order share one identifier from the start.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.Total <= 0 {
		return nil, ErrInvalidAmount
	}

	orderID := uuid.New().String()
	res, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		OrderID:     orderID,
		AmountMinor: int64(math.Round(in.Total * 100)),
		Description: fmt.Sprintf("Order %s", orderID),
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ord := &Order{
		ID:               orderID,
		Amount:           in.Total,
		Items:            in.Items,
		Table:            in.Table,
		SessionID:        in.SessionID,
		Status:           StatusPending,
		ProviderResponse: res.Raw,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, ord); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}

	log.Printf("[Order] created %s amount=%.2f checkout=%s", orderID, in.Total, res.CheckoutURL)
	s.emit(ctx, events.TypeOrderCreated, orderID, map[string]any{
		"orderId":     orderID,
		"amount":      in.Total,
		"checkoutUrl": res.CheckoutURL,
	})
	return &CreateResult{OrderID: orderID, CheckoutURL: res.CheckoutURL}, nil
}

// HandleWebhook applies one verified webhook observation. Redeliveries are
// idempotent; an unknown orderId surfaces as ErrUnknownOrder with no state
// action.
func (s *Service) HandleWebhook(ctx context.Context, obs *gateway.Observation) (*Order, error) {
	return s.applyObservation(ctx, obs, SourceWebhook)
}

// Status returns the persisted order, refreshed best-effort from the gateway
// when the order is still in flight. A gateway failure falls back to the
// persisted status and never surfaces to the caller.
func (s *Service) Status(ctx context.Context, orderID string) (*Order, error) {
	ord, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.Status.Terminal() {
		return ord, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()
	res, err := s.gateway.QueryStatus(pollCtx, orderID)
	if err != nil {
		log.Printf("[Order] status poll for %s fell back to persisted %s: %v", orderID, ord.Status, err)
		return ord, nil
	}

	updated, err := s.applyObservation(ctx, &gateway.Observation{
		OrderID:   orderID,
		RawStatus: res.Status,
		Payload:   res.Raw,
	}, SourcePoll)
	if err != nil {
		log.Printf("[Order] recording poll result for %s failed: %v", orderID, err)
		return ord, nil
	}
	return updated, nil
}

// List returns the most recent orders for the back-office view.
func (s *Service) List(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// applyObservation runs the reconciliation rules against the stored order and
// commits the outcome through the store's compare-and-set. On a lost race it
// re-reads and decides again; the rules are monotonic, so this converges.
func (s *Service) applyObservation(ctx context.Context, obs *gateway.Observation, source Source) (*Order, error) {
	observed := MapProviderStatus(obs.RawStatus)

	for attempt := 0; attempt < 3; attempt++ {
		ord, err := s.store.Get(ctx, obs.OrderID)
		if err != nil {
			return nil, err
		}

		out := Reconcile(ord.Status, observed)
		if !out.Changed {
			if err := s.store.RecordObservation(ctx, ord.ID, source, obs.Payload); err != nil {
				return nil, fmt.Errorf("record %s observation for %s: %w", source, ord.ID, err)
			}
			if out.Suppressed {
				log.Printf("[Reconcile] order %s is %s; suppressed conflicting %s observation %q",
					ord.ID, ord.Status, source, obs.RawStatus)
				s.emit(ctx, events.TypeObservationSuppressed, ord.ID, map[string]any{
					"orderId":        ord.ID,
					"status":         ord.Status,
					"observedStatus": obs.RawStatus,
					"source":         source,
				})
			}
			s.annotate(ord, source, obs.Payload)
			return ord, nil
		}

		ok, err := s.store.UpdateStatusCAS(ctx, ord.ID, ord.Status, out.Next, source, obs.Payload)
		if err != nil {
			return nil, fmt.Errorf("update status for %s: %w", ord.ID, err)
		}
		if !ok {
			// A concurrent observation committed first; re-read and re-decide.
			continue
		}

		log.Printf("[Reconcile] order %s: %s -> %s (%s, provider status %q)",
			ord.ID, ord.Status, out.Next, source, obs.RawStatus)
		if out.Next.Terminal() {
			evtType := events.TypePaymentSucceeded
			if out.Next == StatusFailed {
				evtType = events.TypePaymentFailed
			}
			s.emit(ctx, evtType, ord.ID, map[string]any{
				"orderId": ord.ID,
				"amount":  ord.Amount,
				"status":  out.Next,
				"source":  source,
			})
		}
		ord.Status = out.Next
		ord.UpdatedAt = s.now().UTC()
		s.annotate(ord, source, obs.Payload)
		return ord, nil
	}
	return nil, fmt.Errorf("order %s: gave up after repeated concurrent status updates", obs.OrderID)
}

// annotate mirrors onto the in-memory view what the store just recorded.
func (s *Service) annotate(ord *Order, source Source, raw []byte) {
	switch source {
	case SourceWebhook:
		ord.ProviderCallback = raw
	case SourcePoll:
		ord.ProviderResponse = raw
		now := s.now().UTC()
		ord.LastStatusCheckAt = &now
	}
}

func (s *Service) emit(ctx context.Context, eventType, orderID string, data map[string]any) {
	if s.producer == nil {
		return
	}
	evt := events.Envelope{
		EventType:    eventType,
		EventVersion: "v1",
		AggregateID:  orderID,
		Data:         data,
	}
	if err := s.producer.Publish(ctx, s.topic, orderID, evt); err != nil {
		log.Printf("[Events] failed to publish %s for %s: %v", eventType, orderID, err)
	}
}
