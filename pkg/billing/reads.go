package billing

import (
	"context"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// DefaultHistoryLimit caps ListBillingHistory when no limit is given
const DefaultHistoryLimit = 100

// GetSubscription returns a subscription visible to the caller
func (m *Manager) GetSubscription(ctx context.Context, callerID, subscriptionID int64) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizer.Authorize(ctx, callerID, sub.BilledParty, orgs.RoleMember); err != nil {
		return nil, err
	}
	return sub, nil
}

// CurrentSubscription returns the party's open subscription
func (m *Manager) CurrentSubscription(ctx context.Context, callerID int64, party orgs.BilledParty) (*Subscription, error) {
	if err := m.authorizer.Authorize(ctx, callerID, party, orgs.RoleMember); err != nil {
		return nil, err
	}
	sub, err := m.store.FindOpenSubscription(ctx, party)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperrors.NotFound(apperrors.CodeNoActiveSubscription, "%s has no active subscription", party)
	}
	return sub, nil
}

// ListBillingHistory lists the party's ledger, newest first
func (m *Manager) ListBillingHistory(ctx context.Context, callerID int64, party orgs.BilledParty, limit int) ([]*BillingHistory, error) {
	if err := m.authorizer.Authorize(ctx, callerID, party, orgs.RoleMember); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return m.store.ListBillingHistory(ctx, party, limit)
}

// ListTransactions lists the gateway transactions of a subscription
func (m *Manager) ListTransactions(ctx context.Context, callerID, subscriptionID int64) ([]*PaymentTransaction, error) {
	if _, err := m.GetSubscription(ctx, callerID, subscriptionID); err != nil {
		return nil, err
	}
	return m.store.ListTransactions(ctx, subscriptionID)
}

// Entitlements returns what the party's plan grants. A party without an
// ACTIVE or TRIAL subscription falls back to the default plan.
func (m *Manager) Entitlements(ctx context.Context, callerID int64, party orgs.BilledParty) (*Entitlements, error) {
	if err := m.authorizer.Authorize(ctx, callerID, party, orgs.RoleMember); err != nil {
		return nil, err
	}

	sub, err := m.store.FindOpenSubscription(ctx, party)
	if err != nil {
		return nil, err
	}

	var plan *plans.Plan
	ent := &Entitlements{Party: party}
	if sub != nil && sub.Status != StatusPending {
		plan, err = m.plans.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, err
		}
		ent.SubscriptionID = &sub.ID
	} else {
		plan, err = m.plans.DefaultPlan(ctx)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, apperrors.NotFound(apperrors.CodeNoActiveSubscription, "%s has no active subscription and no default plan is set", party)
		}
	}

	ent.PlanID = plan.ID
	ent.PlanName = plan.Name
	ent.Features = plan.Features
	ent.Limits = plan.Limits
	return ent, nil
}

// CheckLimit reports whether used units fit the party's named limit.
// A limit the plan does not define allows nothing.
func (m *Manager) CheckLimit(ctx context.Context, callerID int64, party orgs.BilledParty, key string, used int64) (*LimitCheck, error) {
	if key == "" {
		return nil, invalidInput("limit key is required")
	}
	ent, err := m.Entitlements(ctx, callerID, party)
	if err != nil {
		return nil, err
	}

	check := &LimitCheck{Key: key, Used: used}
	if limit, ok := ent.Limits[key]; ok {
		check.Limit = &limit
		check.Unlimited = limit == plans.Unlimited
		check.Allowed = check.Unlimited || used <= limit
	}
	return check, nil
}
