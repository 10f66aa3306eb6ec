package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/payments"
)

// PaymentHandlers receives payment gateway callbacks
type PaymentHandlers struct {
	subscriptions Subscriptions
	secret        []byte
}

// NewPaymentHandlers creates a new PaymentHandlers
func NewPaymentHandlers(subscriptions Subscriptions, webhookSecret string) *PaymentHandlers {
	return &PaymentHandlers{subscriptions: subscriptions, secret: []byte(webhookSecret)}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/webhook", h.HandleWebhook).Methods("POST")
}

// HandleWebhook handles POST /payments/webhook
func (h *PaymentHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	event, err := payments.ParseEvent(payload, r.Header.Get(payments.SignatureHeader), h.secret)
	if errors.Is(err, payments.ErrNoSecret) {
		observability.FromContext(r.Context()).Error("payment webhook rejected: no signing secret configured")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "webhook verification is not configured")
		return
	}
	if errors.Is(err, payments.ErrInvalidSignature) {
		httputil.WriteUnauthorized(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"event_id":       event.ID,
		"event_type":     event.Type,
		"transaction_id": event.TransactionID,
	}).Info("payment webhook received")

	if err := h.subscriptions.HandlePaymentEvent(r.Context(), event); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
