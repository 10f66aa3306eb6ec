package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// PlanResolver is the part of the plan catalog the manager consults
type PlanResolver interface {
	GetPlan(ctx context.Context, id int64) (*plans.Plan, error)
	ResolvePlan(ctx context.Context, id int64) (*plans.Plan, error)
	DefaultPlan(ctx context.Context) (*plans.Plan, error)
}

// Authorizer checks that a caller may act on a billed party
type Authorizer interface {
	Authorize(ctx context.Context, callerID int64, party orgs.BilledParty, required orgs.Role) error
}

// AddressChecker reports whether a user has a billing address on file
type AddressChecker interface {
	HasBillingAddress(ctx context.Context, userID int64) (bool, error)
}

// DefaultPendingTimeout is how long a checkout may stay unpaid before expiring
const DefaultPendingTimeout = 24 * time.Hour

// Manager owns the subscription state machine
type Manager struct {
	store          Store
	plans          PlanResolver
	authorizer     Authorizer
	addresses      AddressChecker
	gateway        payments.Gateway
	logger         *observability.Logger
	metrics        *observability.Metrics
	instruments    *observability.LifecycleInstruments
	tracer         trace.Tracer
	now            func() time.Time
	pendingTimeout time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records transitions in Prometheus
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithInstruments records transitions through OpenTelemetry
func WithInstruments(instruments *observability.LifecycleInstruments) Option {
	return func(m *Manager) { m.instruments = instruments }
}

// WithPendingTimeout sets how long checkouts stay PENDING
func WithPendingTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pendingTimeout = d
		}
	}
}

// NewManager creates a new Manager
func NewManager(store Store, planResolver PlanResolver, authorizer Authorizer, addresses AddressChecker, gateway payments.Gateway, logger *observability.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := &Manager{
		store:          store,
		plans:          planResolver,
		authorizer:     authorizer,
		addresses:      addresses,
		gateway:        gateway,
		logger:         logger,
		tracer:         observability.Tracer("github.com/platinummonkey/tenancy/pkg/billing"),
		now:            time.Now,
		pendingTimeout: DefaultPendingTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "billing."+op, trace.WithAttributes(attrs...))
}

// finish closes the span and counts the failure, if any
func (m *Manager) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.RecordLifecycleError(op, string(apperrors.CodeOf(err)))
	}
	span.End()
}

func (m *Manager) transitioned(ctx context.Context, sub *Subscription, from SubscriptionStatus) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	m.metrics.RecordTransition(fromLabel, string(sub.Status))
	m.instruments.RecordTransition(ctx, fromLabel, string(sub.Status))
	m.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"party":           sub.BilledParty.String(),
		"plan_id":         sub.PlanID,
		"from":            fromLabel,
		"to":              sub.Status,
	}).Info("subscription transition")
}

// NewInvoiceNumber returns an invoice number of the form INV-YYYYMMDD-xxxxxxxx
func NewInvoiceNumber(at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("INV-%s-%s", at.UTC().Format("20060102"), id[:8])
}

func invalidInput(format string, args ...interface{}) error {
	return apperrors.InvalidArgument(apperrors.CodeInvalidInput, format, args...)
}

// Create starts a checkout for a plan. The subscription is PENDING until the
// gateway confirms payment through Activate.
func (m *Manager) Create(ctx context.Context, callerID int64, req *CreateSubscriptionRequest) (result *CheckoutResult, err error) {
	ctx, span := m.startSpan(ctx, "Create", attribute.Int64("plan_id", req.PlanID))
	defer func() { m.finish(span, "create", err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := m.authorizer.Authorize(ctx, callerID, req.Party, orgs.RoleOwner); err != nil {
		return nil, err
	}

	addressOwner := callerID
	if req.Party.UserID != nil {
		addressOwner = *req.Party.UserID
	}
	ok, err := m.addresses.HasBillingAddress(ctx, addressOwner)
	if err != nil {
		return nil, apperrors.Persistence("check billing address", err)
	}
	if !ok {
		return nil, apperrors.InvalidArgument(apperrors.CodeBillingAddressRequired, "user %d has no billing address on file", addressOwner)
	}

	plan, err := m.plans.ResolvePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	cycle := plan.BillingCycle
	if req.BillingCycle != nil {
		cycle = *req.BillingCycle
	}

	now := m.now()
	sub := &Subscription{
		BilledParty:  req.Party,
		PlanID:       plan.ID,
		Status:       StatusPending,
		BillingCycle: cycle,
		StartDate:    now,
		EndDate:      cycle.PeriodEnd(now),
		AutoRenew:    req.AutoRenew,
	}
	amount := plan.PriceFor(cycle)

	result = &CheckoutResult{Subscription: sub}
	err = m.store.InTx(ctx, func(tx Store) error {
		existing, err := tx.FindOpenSubscription(ctx, req.Party)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.Conflict(apperrors.CodeDuplicateSubscription, "%s already has open subscription %d", req.Party, existing.ID)
		}
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}

		checkout, err := m.gateway.CreateCheckout(ctx, payments.CheckoutRequest{
			SubscriptionID: sub.ID,
			PlanID:         plan.ID,
			Amount:         amount,
			PaymentMethod:  req.PaymentMethod,
			Description:    fmt.Sprintf("%s (%s)", plan.Name, cycle),
		})
		if err != nil {
			return apperrors.Persistence("create checkout", err)
		}

		txn := &PaymentTransaction{
			SubscriptionID: sub.ID,
			PaymentGateway: checkout.Gateway,
			TransactionID:  checkout.TransactionID,
			Amount:         amount,
			Status:         PaymentPending,
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		result.Transaction = txn
		result.CheckoutURL = checkout.URL
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(ctx, sub, "")
	return result, nil
}

// Activate confirms payment for a PENDING subscription, moving it to ACTIVE
// or TRIAL. A paid activation appends the initial ledger row.
func (m *Manager) Activate(ctx context.Context, subscriptionID int64, req *ActivateRequest) (sub *Subscription, err error) {
	ctx, span := m.startSpan(ctx, "Activate", attribute.Int64("subscription_id", subscriptionID))
	defer func() { m.finish(span, "activate", err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	err = m.store.InTx(ctx, func(tx Store) error {
		var err error
		sub, err = tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != StatusPending {
			return apperrors.Conflict(apperrors.CodeInvalidTransition, "subscription %d is %s, not PENDING", sub.ID, sub.Status)
		}

		txn, err := tx.GetTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if txn.SubscriptionID != sub.ID {
			return invalidInput("transaction %s does not belong to subscription %d", txn.TransactionID, sub.ID)
		}
		if txn.Status != PaymentPending {
			return apperrors.Conflict(apperrors.CodeInvalidTransition, "transaction %s is already %s", txn.TransactionID, txn.Status)
		}

		now := m.now()
		txn.Status = PaymentPaid
		txn.WebhookData = req.WebhookData
		if err := tx.UpdateTransaction(ctx, txn); err != nil {
			return err
		}

		sub.Status = StatusActive
		if req.Trial {
			sub.Status = StatusTrial
		} else {
			sub.LastPaymentDate = &now
		}
		sub.NextPaymentDate = nil
		if sub.AutoRenew {
			next := sub.EndDate
			sub.NextPaymentDate = &next
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		if req.Trial {
			return nil
		}
		return tx.CreateBillingHistory(ctx, &BillingHistory{
			SubscriptionID: &sub.ID,
			BilledParty:    sub.BilledParty,
			PlanID:         sub.PlanID,
			InvoiceNumber:  NewInvoiceNumber(now),
			Amount:         txn.Amount,
			Status:         PaymentPaid,
			Reason:         ReasonInitial,
			PaidAt:         &now,
			PaymentMethod:  txn.PaymentGateway,
		})
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(ctx, sub, StatusPending)
	return sub, nil
}

// FailPayment marks a pending transaction FAILED. The subscription stays
// PENDING so the party can retry until the checkout times out.
func (m *Manager) FailPayment(ctx context.Context, transactionID string, webhookData []byte) (txn *PaymentTransaction, err error) {
	ctx, span := m.startSpan(ctx, "FailPayment", attribute.String("transaction_id", transactionID))
	defer func() { m.finish(span, "fail_payment", err) }()

	err = m.store.InTx(ctx, func(tx Store) error {
		var err error
		txn, err = tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != PaymentPending {
			return apperrors.Conflict(apperrors.CodeInvalidTransition, "transaction %s is already %s", txn.TransactionID, txn.Status)
		}
		txn.Status = PaymentFailed
		txn.WebhookData = webhookData
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"transaction_id":  txn.TransactionID,
		"subscription_id": txn.SubscriptionID,
	}).Warn("payment failed")
	return txn, nil
}

// HandlePaymentEvent applies a verified gateway webhook event
func (m *Manager) HandlePaymentEvent(ctx context.Context, event *payments.Event) error {
	switch event.Type {
	case payments.EventPaymentFailed:
		_, err := m.FailPayment(ctx, event.TransactionID, event.Data)
		return err
	case payments.EventPaymentSucceeded, payments.EventTrialStarted:
		txn, err := m.store.GetTransaction(ctx, event.TransactionID)
		if err != nil {
			return err
		}
		_, err = m.Activate(ctx, txn.SubscriptionID, &ActivateRequest{
			TransactionID: event.TransactionID,
			Trial:         event.Type == payments.EventTrialStarted,
			WebhookData:   event.Data,
		})
		return err
	default:
		return invalidInput("unsupported payment event %q", event.Type)
	}
}

// Cancel cancels a subscription. An immediate cancel ends it now; otherwise
// renewal is switched off and the sweep closes it at its end date.
func (m *Manager) Cancel(ctx context.Context, callerID, subscriptionID int64, immediate bool) (sub *Subscription, err error) {
	ctx, span := m.startSpan(ctx, "Cancel",
		attribute.Int64("subscription_id", subscriptionID), attribute.Bool("immediate", immediate))
	defer func() { m.finish(span, "cancel", err) }()

	var from SubscriptionStatus
	err = m.store.InTx(ctx, func(tx Store) error {
		var err error
		sub, err = tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if err := m.authorizer.Authorize(ctx, callerID, sub.BilledParty, orgs.RoleOwner); err != nil {
			return err
		}
		from = sub.Status
		return m.cancel(ctx, tx, sub, immediate)
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(ctx, sub, from)
	return sub, nil
}

// CancelCurrent cancels the party's open subscription
func (m *Manager) CancelCurrent(ctx context.Context, callerID int64, party orgs.BilledParty, immediate bool) (sub *Subscription, err error) {
	ctx, span := m.startSpan(ctx, "CancelCurrent", attribute.String("party", party.String()))
	defer func() { m.finish(span, "cancel", err) }()

	if err := m.authorizer.Authorize(ctx, callerID, party, orgs.RoleOwner); err != nil {
		return nil, err
	}

	var from SubscriptionStatus
	err = m.store.InTx(ctx, func(tx Store) error {
		var err error
		sub, err = tx.FindOpenSubscription(ctx, party)
		if err != nil {
			return err
		}
		if sub == nil {
			latest, err := tx.FindLatestSubscription(ctx, party)
			if err != nil {
				return err
			}
			if latest == nil {
				return apperrors.NotFound(apperrors.CodeNoActiveSubscription, "%s has no active subscription", party)
			}
			sub = latest
		}
		from = sub.Status
		return m.cancel(ctx, tx, sub, immediate)
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(ctx, sub, from)
	return sub, nil
}

func (m *Manager) cancel(ctx context.Context, tx Store, sub *Subscription, immediate bool) error {
	switch sub.Status {
	case StatusCancelled:
		return apperrors.Conflict(apperrors.CodeAlreadyCancelled, "subscription %d is already cancelled", sub.ID)
	case StatusExpired:
		return apperrors.NotFound(apperrors.CodeNoActiveSubscription, "subscription %d has expired", sub.ID)
	}

	now := m.now()
	sub.AutoRenew = false
	sub.NextPaymentDate = nil
	sub.CancelledAt = &now
	if immediate {
		sub.Status = StatusCancelled
		sub.EndDate = now
	}
	return tx.UpdateSubscription(ctx, sub)
}

type direction int

const (
	directionUp direction = iota
	directionDown
	// directionEither picks up or down from the target's price
	directionEither
)

func (d direction) reason() BillingReason {
	if d == directionUp {
		return ReasonUpgrade
	}
	return ReasonDowngrade
}

// Upgrade moves an ACTIVE subscription to a strictly more expensive plan.
// The current row is cancelled and a new ACTIVE row starts at the effective
// date; the prorated charge is written to the ledger as PAID.
func (m *Manager) Upgrade(ctx context.Context, callerID, subscriptionID int64, req *ChangePlanRequest) (*ChangeResult, error) {
	return m.switchPlan(ctx, "Upgrade", callerID, subscriptionID, req, directionUp)
}

// Downgrade moves an ACTIVE subscription to a strictly cheaper plan
func (m *Manager) Downgrade(ctx context.Context, callerID, subscriptionID int64, req *ChangePlanRequest) (*ChangeResult, error) {
	return m.switchPlan(ctx, "Downgrade", callerID, subscriptionID, req, directionDown)
}

// ChangePlan upgrades or downgrades depending on the price of the target plan
func (m *Manager) ChangePlan(ctx context.Context, callerID, subscriptionID int64, req *ChangePlanRequest) (*ChangeResult, error) {
	return m.switchPlan(ctx, "ChangePlan", callerID, subscriptionID, req, directionEither)
}

// planDirection orders two plans by their list price. Billing cycle
// overrides on the subscription do not take part in the comparison.
func planDirection(current, target *plans.Plan, dir direction) (direction, error) {
	cmp := target.Price.Cmp(current.Price)
	switch dir {
	case directionUp:
		if cmp <= 0 {
			return dir, apperrors.InvalidArgument(apperrors.CodeInvalidUpgradeTarget,
				"plan %d (%s) is not more expensive than the current plan (%s); use downgrade", target.ID, target.Price, current.Price)
		}
	case directionDown:
		if cmp >= 0 {
			return dir, apperrors.InvalidArgument(apperrors.CodeInvalidDowngradeTarget,
				"plan %d (%s) is not cheaper than the current plan (%s); use upgrade", target.ID, target.Price, current.Price)
		}
	default:
		switch cmp {
		case 1:
			return directionUp, nil
		case -1:
			return directionDown, nil
		}
		return dir, invalidInput("plan %d costs the same as the current plan", target.ID)
	}
	return dir, nil
}

func (m *Manager) switchPlan(ctx context.Context, op string, callerID, subscriptionID int64, req *ChangePlanRequest, dir direction) (result *ChangeResult, err error) {
	ctx, span := m.startSpan(ctx, op,
		attribute.Int64("subscription_id", subscriptionID), attribute.Int64("plan_id", req.PlanID))
	defer func() { m.finish(span, strings.ToLower(op), err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	err = m.store.InTx(ctx, func(tx Store) error {
		old, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if err := m.authorizer.Authorize(ctx, callerID, old.BilledParty, orgs.RoleOwner); err != nil {
			return err
		}
		if old.Status != StatusActive {
			return apperrors.Conflict(apperrors.CodeInvalidTransition, "subscription %d is %s, only ACTIVE subscriptions can change plan", old.ID, old.Status)
		}

		current, err := m.plans.GetPlan(ctx, old.PlanID)
		if err != nil {
			return err
		}
		target, err := m.plans.ResolvePlan(ctx, req.PlanID)
		if err != nil {
			return err
		}
		if dir, err = planDirection(current, target, dir); err != nil {
			return err
		}

		now := m.now()
		effective := now
		if req.EffectiveDate != nil {
			effective = *req.EffectiveDate
		}
		if effective.Before(old.StartDate) {
			return invalidInput("effective date %s is before the subscription start", effective.Format(time.RFC3339))
		}

		// The credit covers what the running period cost in its own cycle.
		proration := Prorate(current.PriceFor(old.BillingCycle), target.Price, old.StartDate, old.EndDate, effective)

		previous := *old
		old.Status = StatusCancelled
		old.AutoRenew = false
		old.NextPaymentDate = nil
		old.CancelledAt = &now
		old.EndDate = effective
		// The open-subscription index only admits the new row once this one is closed.
		if err := tx.UpdateSubscription(ctx, old); err != nil {
			return err
		}

		next := &Subscription{
			BilledParty:            old.BilledParty,
			PlanID:                 target.ID,
			Status:                 StatusActive,
			BillingCycle:           target.BillingCycle,
			StartDate:              effective,
			EndDate:                target.BillingCycle.PeriodEnd(effective),
			AutoRenew:              previous.AutoRenew,
			LastPaymentDate:        &now,
			PreviousSubscriptionID: &old.ID,
		}
		if next.AutoRenew {
			due := next.EndDate
			next.NextPaymentDate = &due
		}
		if err := tx.CreateSubscription(ctx, next); err != nil {
			return err
		}

		entry := &BillingHistory{
			SubscriptionID: &next.ID,
			BilledParty:    next.BilledParty,
			PlanID:         target.ID,
			InvoiceNumber:  NewInvoiceNumber(now),
			Amount:         proration.BilledAmount,
			Status:         PaymentPaid,
			Reason:         dir.reason(),
			PaidAt:         &now,
		}
		if err := tx.CreateBillingHistory(ctx, entry); err != nil {
			return err
		}

		result = &ChangeResult{Previous: old, Subscription: next, Proration: proration, BillingEntry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	amount, _ := result.Proration.BilledAmount.Float64()
	m.metrics.RecordProration(amount)
	m.instruments.RecordProration(ctx, amount, strings.ToLower(string(dir.reason())))
	m.transitioned(ctx, result.Previous, StatusActive)
	m.transitioned(ctx, result.Subscription, "")
	return result, nil
}
