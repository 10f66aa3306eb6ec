package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies a gateway webhook event
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventTrialStarted     EventType = "trial.started"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body
const SignatureHeader = "X-Payment-Signature"

var (
	// ErrInvalidSignature is returned when a webhook signature does not match
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNoSecret is returned when no signing secret is configured
	ErrNoSecret = errors.New("webhook signing secret is not configured")
)

// Event is a webhook notification from the gateway
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	TransactionID string          `json:"transaction_id"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Sign computes the signature for payload
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent verifies the signature and decodes the payload
func ParseEvent(payload []byte, signature string, secret []byte) (*Event, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if !hmac.Equal([]byte(Sign(secret, payload)), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}
	if event.TransactionID == "" {
		return nil, fmt.Errorf("webhook event has no transaction_id")
	}
	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventTrialStarted:
	default:
		return nil, fmt.Errorf("unknown webhook event type %q", event.Type)
	}
	return &event, nil
}
