package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RegisterOrdersRoutes wires the order API endpoints into the provided mux.
func RegisterOrdersRoutes(mux *http.ServeMux, svc *order.Service) {
	mux.Handle("/api/create-order", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCreateOrder(svc, w, r)
	}), "create-order"))

	mux.Handle("/api/order-status", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleOrderStatus(svc, w, r)
	}), "order-status"))

	mux.Handle("/api/orders", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleOrdersList(svc, w, r)
	}), "orders-list"))
}

type createOrderRequest struct {
	Items     json.RawMessage `json:"items"`
	Total     float64         `json:"total"`
	Table     string          `json:"table"`
	SessionID string          `json:"sessionId"`
}

func handleCreateOrder(svc *order.Service, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}

	res, err := svc.Create(r.Context(), order.CreateInput{
		Items:     req.Items,
		Total:     req.Total,
		Table:     req.Table,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeCreateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"orderId":     res.OrderID,
		"checkoutUrl": res.CheckoutURL,
	})
}

// writeCreateError maps the error taxonomy onto HTTP responses. Provider
// errors echo the raw gateway response so the client can diagnose them.
func writeCreateError(w http.ResponseWriter, err error) {
	var pe *gateway.ProviderError
	switch {
	case errors.Is(err, order.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "code": "VALIDATION_ERROR", "error": err.Error(),
		})
	case errors.Is(err, gateway.ErrAuth):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false, "code": "AUTH_ERROR", "error": "gateway authentication failed",
		})
	case errors.As(err, &pe):
		body := map[string]any{
			"success": false, "code": "PROVIDER_ERROR", "error": pe.Error(),
		}
		var raw json.RawMessage
		if json.Unmarshal(pe.Raw, &raw) == nil {
			body["providerResponse"] = raw
		} else {
			body["providerResponse"] = string(pe.Raw)
		}
		writeJSON(w, http.StatusBadGateway, body)
	default:
		log.Printf("[API] create order failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false, "code": "INTERNAL_ERROR", "error": "failed to create order",
		})
	}
}

func handleOrderStatus(svc *order.Service, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	ord, err := svc.Status(r.Context(), orderID)
	if errors.Is(err, order.ErrUnknownOrder) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[API] order status for %s failed: %v", orderID, err)
		http.Error(w, "failed to load order", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":           ord.ID,
		"status":            ord.Status,
		"amount":            ord.Amount,
		"updatedAt":         ord.UpdatedAt,
		"lastStatusCheckAt": ord.LastStatusCheckAt,
	})
}

func handleOrdersList(svc *order.Service, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := svc.List(r.Context(), 50)
	if err != nil {
		log.Printf("[API] orders list failed: %v", err)
		http.Error(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
