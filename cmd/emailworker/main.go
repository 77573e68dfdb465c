package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/email"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/events"
)

func main() {
	log.Println("Email worker starting...")
	startConsumer()
}

func startConsumer() {
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")
	topic := getenv("KAFKA_PAYMENTS_TOPIC", "payments.v1")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{brokers},
		Topic:    topic,
		GroupID:  "email-workers", // its own consumer group
		MinBytes: 1e3, MaxBytes: 10e6,
	})
	defer reader.Close()

	sender := pickSender()
	log.Printf("[email-worker] consuming %s (group=email-workers)", topic)
	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("[email-worker] read error: %v", err)
			return
		}

		var evt events.Envelope
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("[email-worker] bad json: %v; payload=%s", err, string(msg.Value))
			continue
		}

		switch evt.EventType {
		case events.TypeOrderCreated:
			handleOrderCreated(sender, evt)
		case events.TypePaymentSucceeded:
			handlePaymentSucceeded(sender, evt)
		case events.TypePaymentFailed:
			handlePaymentFailed(sender, evt)
		default:
			// ObservationSuppressed and friends are audit-only
		}
	}
}

func handleOrderCreated(sender email.Sender, evt events.Envelope) {
	data := toMap(evt.Data)
	orderID := toString(data["orderId"])
	checkoutURL := toString(data["checkoutUrl"])
	amount := toFloat(data["amount"])
	// Customer email lives on the merchant side; for demo accept override via env:
	to := getenv("DEMO_TO_EMAIL", "test@example.local")

	body := email.RenderOrderCreatedEmail(orderID, amount, checkoutURL)
	if err := sender.Send(to, "Your order confirmation", body); err != nil {
		log.Printf("[email-worker] send failed: %v", err)
		return
	}

	log.Printf("[email-worker] sent OrderCreated email to=%s order=%s amount=%.2f", to, orderID, amount)
}

func handlePaymentSucceeded(sender email.Sender, evt events.Envelope) {
	data := toMap(evt.Data)
	orderID := toString(data["orderId"])
	amount := toFloat(data["amount"])

	to := getenv("DEMO_TO_EMAIL", "test@example.local")

	body := email.RenderPaymentSucceededEmail(orderID, amount)
	if err := sender.Send(to, "Your payment confirmation", body); err != nil {
		log.Printf("[email-worker] send failed: %v", err)
		return
	}

	log.Printf("[email-worker] sent PaymentSucceeded email to=%s order=%s amount=%.2f", to, orderID, amount)
}

func handlePaymentFailed(sender email.Sender, evt events.Envelope) {
	data := toMap(evt.Data)
	orderID := toString(data["orderId"])
	amount := toFloat(data["amount"])

	to := getenv("DEMO_TO_EMAIL", "test@example.local")

	body := email.RenderPaymentFailedEmail(orderID, amount)
	if err := sender.Send(to, "Payment unsuccessful", body); err != nil {
		log.Printf("[email-worker] send failed: %v", err)
		return
	}

	log.Printf("[email-worker] sent PaymentFailed email to=%s order=%s amount=%.2f", to, orderID, amount)
}

func pickSender() email.Sender {
	// Use SMTP if configured; else fallback to log
	if os.Getenv("SMTP_HOST") != "" || os.Getenv("SMTP_PORT") != "" {
		return email.NewSMTPSender()
	}
	return email.LogSender{}
}

// helpers
func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func toMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}
