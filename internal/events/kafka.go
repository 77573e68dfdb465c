package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types published by the reconciliation service.
const (
	TypeOrderCreated          = "OrderCreated"
	TypePaymentSucceeded      = "PaymentSucceeded"
	TypePaymentFailed         = "PaymentFailed"
	TypeObservationSuppressed = "ObservationSuppressed"
)

type Producer struct{ w *kafka.Writer }

// NewProducer constructs a Kafka producer partitioning by message key, so all
// events for one order land on the same partition in order.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Envelope is the standard event schema. Keep it small and stable.
type Envelope struct {
	EventType    string      `json:"eventType"`
	EventVersion string      `json:"eventVersion"`
	OccurredAt   time.Time   `json:"occurredAt"`
	AggregateID  string      `json:"aggregateId"` // orderId
	Data         interface{} `json:"data"`
}

// Publish writes a single message. 'key' is the partition key; use the
// orderId to keep per-order ordering.
func (p *Producer) Publish(ctx context.Context, topic, key string, evt Envelope) error {
	evt.OccurredAt = time.Now().UTC()
	val, _ := json.Marshal(evt)
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
	})
}
