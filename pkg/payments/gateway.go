// Package payments abstracts the external payment gateway used for checkout
// and the webhook events it sends back.
package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest describes a payment to collect
type CheckoutRequest struct {
	SubscriptionID int64
	PlanID         int64
	Amount         decimal.Decimal
	PaymentMethod  string
	Description    string
}

// Checkout is the gateway's answer to a CheckoutRequest
type Checkout struct {
	Gateway       string
	TransactionID string
	URL           string
}

// Gateway starts hosted checkouts
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// MockGateway issues local checkout links without contacting a provider.
// Payments are confirmed by posting a webhook event.
type MockGateway struct {
	baseURL string
	newID   func() string
}

// NewMockGateway creates a MockGateway whose links point at baseURL
func NewMockGateway(baseURL string) *MockGateway {
	return &MockGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   func() string { return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Name returns the gateway identifier stored on transactions
func (g *MockGateway) Name() string {
	return "mock"
}

// CreateCheckout creates a checkout link for the request
func (g *MockGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("checkout amount must not be negative")
	}

	id := g.newID()
	q := url.Values{}
	q.Set("transaction", id)
	q.Set("amount", req.Amount.StringFixed(2))
	if req.PaymentMethod != "" {
		q.Set("method", req.PaymentMethod)
	}

	return &Checkout{
		Gateway:       g.Name(),
		TransactionID: id,
		URL:           fmt.Sprintf("%s/checkout?%s", g.baseURL, q.Encode()),
	}, nil
}
