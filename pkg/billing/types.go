package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// SubscriptionStatus represents the state of a subscription
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "PENDING"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusTrial     SubscriptionStatus = "TRIAL"
	StatusCancelled SubscriptionStatus = "CANCELLED"
	StatusExpired   SubscriptionStatus = "EXPIRED"
)

// IsOpen reports whether the status counts toward the one-per-party limit
func (s SubscriptionStatus) IsOpen() bool {
	return s == StatusPending || s == StatusActive || s == StatusTrial
}

// IsTerminal reports whether no further transition is possible
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Subscription binds a billed party to a plan for a period
type Subscription struct {
	ID int64 `json:"id"`
	orgs.BilledParty
	PlanID                 int64              `json:"plan_id"`
	Status                 SubscriptionStatus `json:"status"`
	BillingCycle           plans.BillingCycle `json:"billing_cycle"`
	StartDate              time.Time          `json:"start_date"`
	EndDate                time.Time          `json:"end_date"`
	AutoRenew              bool               `json:"auto_renew"`
	LastPaymentDate        *time.Time         `json:"last_payment_date,omitempty"`
	NextPaymentDate        *time.Time         `json:"next_payment_date,omitempty"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	PreviousSubscriptionID *int64             `json:"previous_subscription_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Party returns the billed party of the subscription
func (s *Subscription) Party() orgs.BilledParty {
	return s.BilledParty
}

// PaymentStatus is shared by ledger rows and gateway transactions
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// BillingReason records which event produced a ledger row
type BillingReason string

const (
	ReasonInitial   BillingReason = "INITIAL"
	ReasonUpgrade   BillingReason = "UPGRADE"
	ReasonDowngrade BillingReason = "DOWNGRADE"
	ReasonRenewal   BillingReason = "RENEWAL"
)

// BillingHistory is an append-only ledger entry
type BillingHistory struct {
	ID             int64  `json:"id"`
	SubscriptionID *int64 `json:"subscription_id,omitempty"`
	orgs.BilledParty
	PlanID        int64           `json:"plan_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	Reason        BillingReason   `json:"reason"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentTransaction tracks one attempt to collect money through the gateway
type PaymentTransaction struct {
	ID             int64           `json:"id"`
	SubscriptionID int64           `json:"subscription_id"`
	PaymentGateway string          `json:"payment_gateway"`
	TransactionID  string          `json:"transaction_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	WebhookData    json.RawMessage `json:"webhook_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateSubscriptionRequest starts a checkout
type CreateSubscriptionRequest struct {
	Party         orgs.BilledParty    `json:"party"`
	PlanID        int64               `json:"plan_id"`
	BillingCycle  *plans.BillingCycle `json:"billing_cycle,omitempty"`
	AutoRenew     bool                `json:"auto_renew"`
	PaymentMethod string              `json:"payment_method,omitempty"`
}

// Validate validates the request
func (r *CreateSubscriptionRequest) Validate() error {
	if err := r.Party.Validate(); err != nil {
		return err
	}
	if r.PlanID <= 0 {
		return invalidInput("plan_id is required")
	}
	if r.BillingCycle != nil && !r.BillingCycle.Valid() {
		return invalidInput("invalid billing cycle %q", *r.BillingCycle)
	}
	return nil
}

// ChangePlanRequest moves a subscription to another plan
type ChangePlanRequest struct {
	PlanID        int64      `json:"plan_id"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

// Validate validates the request
func (r *ChangePlanRequest) Validate() error {
	if r.PlanID <= 0 {
		return invalidInput("plan_id is required")
	}
	return nil
}

// ActivateRequest confirms payment for a pending subscription
type ActivateRequest struct {
	TransactionID string          `json:"transaction_id"`
	Trial         bool            `json:"trial"`
	WebhookData   json.RawMessage `json:"webhook_data,omitempty"`
}

// Validate validates the request
func (r *ActivateRequest) Validate() error {
	if r.TransactionID == "" {
		return invalidInput("transaction_id is required")
	}
	return nil
}

// CheckoutResult is returned by Create
type CheckoutResult struct {
	Subscription *Subscription       `json:"subscription"`
	Transaction  *PaymentTransaction `json:"transaction"`
	CheckoutURL  string              `json:"checkout_url"`
}

// ChangeResult is returned by Upgrade and Downgrade
type ChangeResult struct {
	Previous     *Subscription   `json:"previous"`
	Subscription *Subscription   `json:"subscription"`
	Proration    Proration       `json:"proration"`
	BillingEntry *BillingHistory `json:"billing_entry"`
}

// Entitlements is the effective plan grant for a billed party
type Entitlements struct {
	Party          orgs.BilledParty       `json:"party"`
	PlanID         int64                  `json:"plan_id"`
	PlanName       string                 `json:"plan_name"`
	SubscriptionID *int64                 `json:"subscription_id,omitempty"`
	Features       map[string]interface{} `json:"features"`
	Limits         map[string]int64       `json:"limits"`
}

// LimitCheck answers whether usage fits a plan limit
type LimitCheck struct {
	Key       string `json:"key"`
	Used      int64  `json:"used"`
	Limit     *int64 `json:"limit,omitempty"`
	Unlimited bool   `json:"unlimited"`
	Allowed   bool   `json:"allowed"`
}

// SweepResult summarizes one ExpireDue or RenewDue pass
type SweepResult struct {
	Expired []int64 `json:"expired,omitempty"`
	Renewed []int64 `json:"renewed,omitempty"`
	Failed  []int64 `json:"failed,omitempty"`
}
