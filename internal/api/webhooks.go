package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// RegisterWebhookRoutes mounts the payment webhook endpoint. Signature
// verification runs over the exact bytes received, before any decoding result
// is trusted.
func RegisterWebhookRoutes(mux *http.ServeMux, verifier gateway.Verifier, svc *order.Service) {
	mux.Handle("/api/webhook", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processWebhook(verifier, svc, w, r)
	}), "payment-webhook"))
}

func processWebhook(verifier gateway.Verifier, svc *order.Service, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	env, err := gateway.DecodeWebhook(raw, r.Header.Get("X-Signature"))
	if err != nil {
		log.Printf("[Webhook] rejected malformed delivery: %v", err)
		http.Error(w, "malformed webhook payload", http.StatusBadRequest)
		return
	}

	if !verifier.Verify(env.SignedBytes, env.Signature) {
		log.Printf("[Webhook] rejected delivery with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	obs, err := gateway.ParseObservation(env.Payload)
	if err != nil {
		log.Printf("[Webhook] rejected unattributable delivery: %v", err)
		http.Error(w, "malformed webhook payload", http.StatusBadRequest)
		return
	}

	ord, err := svc.HandleWebhook(r.Context(), obs)
	if errors.Is(err, order.ErrUnknownOrder) {
		// Possibly a race with order creation, possibly foreign traffic.
		// Either way: no state action.
		log.Printf("[Webhook] unknown order %s (provider status %q)", obs.OrderID, obs.RawStatus)
		http.Error(w, "unknown order", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("[Webhook] failed to apply observation for %s: %v", obs.OrderID, err)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "received", "orderStatus": ord.Status})
}
