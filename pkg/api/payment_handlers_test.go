package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/payments"
)

func postWebhook(ts *testServer, payload []byte, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	if signature != "" {
		r.Header.Set(payments.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func TestPaymentHandlers_Webhook(t *testing.T) {
	ts := newTestServer(t)
	var got *payments.Event
	ts.subscriptions.handlePaymentEventFunc = func(ctx context.Context, event *payments.Event) error {
		got = event
		if event.TransactionID == "txn_missing" {
			return apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction %s not found", event.TransactionID)
		}
		return nil
	}
	secret := []byte("whsec")

	t.Run("valid signature without bearer token", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","type":"payment.succeeded","transaction_id":"txn_1","data":{"amount":"100.00"}}`)
		w := postWebhook(ts, payload, payments.Sign(secret, payload))

		assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
		require.NotNil(t, got)
		assert.Equal(t, payments.EventPaymentSucceeded, got.Type)
		assert.Equal(t, "txn_1", got.TransactionID)
		assert.JSONEq(t, `{"amount":"100.00"}`, string(got.Data))
	})

	t.Run("bad signature", func(t *testing.T) {
		got = nil
		payload := []byte(`{"id":"evt_2","type":"payment.succeeded","transaction_id":"txn_1"}`)
		w := postWebhook(ts, payload, "deadbeef")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Nil(t, got)
	})

	t.Run("unknown event type", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","type":"refund.created","transaction_id":"txn_1"}`)
		w := postWebhook(ts, payload, payments.Sign(secret, payload))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		got = nil
		payload := []byte(`{"id":"evt_5","type":"payment.succeeded","transaction_id":"txn_1"}`)
		w := postWebhook(ts, payload, "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Nil(t, got)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		payload := []byte(`{"id":"evt_4","type":"payment.failed","transaction_id":"txn_missing"}`)
		w := postWebhook(ts, payload, payments.Sign(secret, payload))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "TransactionNotFound", errorCode(t, w))
	})
}

func TestPaymentHandlers_WebhookWithoutSecret(t *testing.T) {
	called := false
	subscriptions := &mockSubscriptions{
		handlePaymentEventFunc: func(ctx context.Context, event *payments.Event) error {
			called = true
			return nil
		},
	}
	router := mux.NewRouter()
	NewPaymentHandlers(subscriptions, "").RegisterRoutes(router)

	payload := []byte(`{"id":"evt_1","type":"payment.succeeded","transaction_id":"txn_from_checkout"}`)
	r := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, called)
}
