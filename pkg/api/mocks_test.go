package api

import (
	"context"
	"errors"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

var errNotImplemented = errors.New("not implemented")

// mockCatalog implements PlanCatalog for testing
type mockCatalog struct {
	getPlanFunc        func(ctx context.Context, id int64) (*plans.Plan, error)
	listPlansFunc      func(ctx context.Context, activeOnly bool) ([]*plans.Plan, error)
	comparePlansFunc   func(ctx context.Context, ids []int64) (*plans.ComparisonMatrix, error)
	createPlanFunc     func(ctx context.Context, req *plans.CreatePlanRequest) (*plans.Plan, error)
	updatePlanFunc     func(ctx context.Context, id int64, req *plans.UpdatePlanRequest) (*plans.UpdateResult, error)
	setDefaultPlanFunc func(ctx context.Context, id int64) error
	deactivatePlanFunc func(ctx context.Context, id int64) error
	purgePlanFunc      func(ctx context.Context, id int64) error
}

func (m *mockCatalog) GetPlan(ctx context.Context, id int64) (*plans.Plan, error) {
	if m.getPlanFunc != nil {
		return m.getPlanFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockCatalog) ListPlans(ctx context.Context, activeOnly bool) ([]*plans.Plan, error) {
	if m.listPlansFunc != nil {
		return m.listPlansFunc(ctx, activeOnly)
	}
	return nil, errNotImplemented
}

func (m *mockCatalog) ComparePlans(ctx context.Context, ids []int64) (*plans.ComparisonMatrix, error) {
	if m.comparePlansFunc != nil {
		return m.comparePlansFunc(ctx, ids)
	}
	return nil, errNotImplemented
}

func (m *mockCatalog) CreatePlan(ctx context.Context, req *plans.CreatePlanRequest) (*plans.Plan, error) {
	if m.createPlanFunc != nil {
		return m.createPlanFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockCatalog) UpdatePlan(ctx context.Context, id int64, req *plans.UpdatePlanRequest) (*plans.UpdateResult, error) {
	if m.updatePlanFunc != nil {
		return m.updatePlanFunc(ctx, id, req)
	}
	return nil, errNotImplemented
}

func (m *mockCatalog) SetDefaultPlan(ctx context.Context, id int64) error {
	if m.setDefaultPlanFunc != nil {
		return m.setDefaultPlanFunc(ctx, id)
	}
	return errNotImplemented
}

func (m *mockCatalog) DeactivatePlan(ctx context.Context, id int64) error {
	if m.deactivatePlanFunc != nil {
		return m.deactivatePlanFunc(ctx, id)
	}
	return errNotImplemented
}

func (m *mockCatalog) PurgePlan(ctx context.Context, id int64) error {
	if m.purgePlanFunc != nil {
		return m.purgePlanFunc(ctx, id)
	}
	return errNotImplemented
}

type changeFn func(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error)

// mockSubscriptions implements Subscriptions for testing
type mockSubscriptions struct {
	createFunc              func(ctx context.Context, callerID int64, req *billing.CreateSubscriptionRequest) (*billing.CheckoutResult, error)
	activateFunc            func(ctx context.Context, subscriptionID int64, req *billing.ActivateRequest) (*billing.Subscription, error)
	handlePaymentEventFunc  func(ctx context.Context, event *payments.Event) error
	cancelFunc              func(ctx context.Context, callerID, subscriptionID int64, immediate bool) (*billing.Subscription, error)
	cancelCurrentFunc       func(ctx context.Context, callerID int64, party orgs.BilledParty, immediate bool) (*billing.Subscription, error)
	upgradeFunc             changeFn
	downgradeFunc           changeFn
	changePlanFunc          changeFn
	getSubscriptionFunc     func(ctx context.Context, callerID, subscriptionID int64) (*billing.Subscription, error)
	currentSubscriptionFunc func(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Subscription, error)
	listBillingHistoryFunc  func(ctx context.Context, callerID int64, party orgs.BilledParty, limit int) ([]*billing.BillingHistory, error)
	listTransactionsFunc    func(ctx context.Context, callerID, subscriptionID int64) ([]*billing.PaymentTransaction, error)
	entitlementsFunc        func(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Entitlements, error)
	checkLimitFunc          func(ctx context.Context, callerID int64, party orgs.BilledParty, key string, used int64) (*billing.LimitCheck, error)
}

func (m *mockSubscriptions) Create(ctx context.Context, callerID int64, req *billing.CreateSubscriptionRequest) (*billing.CheckoutResult, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, callerID, req)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) Activate(ctx context.Context, subscriptionID int64, req *billing.ActivateRequest) (*billing.Subscription, error) {
	if m.activateFunc != nil {
		return m.activateFunc(ctx, subscriptionID, req)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) HandlePaymentEvent(ctx context.Context, event *payments.Event) error {
	if m.handlePaymentEventFunc != nil {
		return m.handlePaymentEventFunc(ctx, event)
	}
	return errNotImplemented
}

func (m *mockSubscriptions) Cancel(ctx context.Context, callerID, subscriptionID int64, immediate bool) (*billing.Subscription, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, callerID, subscriptionID, immediate)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) CancelCurrent(ctx context.Context, callerID int64, party orgs.BilledParty, immediate bool) (*billing.Subscription, error) {
	if m.cancelCurrentFunc != nil {
		return m.cancelCurrentFunc(ctx, callerID, party, immediate)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) Upgrade(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error) {
	if m.upgradeFunc != nil {
		return m.upgradeFunc(ctx, callerID, subscriptionID, req)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) Downgrade(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error) {
	if m.downgradeFunc != nil {
		return m.downgradeFunc(ctx, callerID, subscriptionID, req)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) ChangePlan(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error) {
	if m.changePlanFunc != nil {
		return m.changePlanFunc(ctx, callerID, subscriptionID, req)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) GetSubscription(ctx context.Context, callerID, subscriptionID int64) (*billing.Subscription, error) {
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, callerID, subscriptionID)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) CurrentSubscription(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Subscription, error) {
	if m.currentSubscriptionFunc != nil {
		return m.currentSubscriptionFunc(ctx, callerID, party)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) ListBillingHistory(ctx context.Context, callerID int64, party orgs.BilledParty, limit int) ([]*billing.BillingHistory, error) {
	if m.listBillingHistoryFunc != nil {
		return m.listBillingHistoryFunc(ctx, callerID, party, limit)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) ListTransactions(ctx context.Context, callerID, subscriptionID int64) ([]*billing.PaymentTransaction, error) {
	if m.listTransactionsFunc != nil {
		return m.listTransactionsFunc(ctx, callerID, subscriptionID)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) Entitlements(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Entitlements, error) {
	if m.entitlementsFunc != nil {
		return m.entitlementsFunc(ctx, callerID, party)
	}
	return nil, errNotImplemented
}

func (m *mockSubscriptions) CheckLimit(ctx context.Context, callerID int64, party orgs.BilledParty, key string, used int64) (*billing.LimitCheck, error) {
	if m.checkLimitFunc != nil {
		return m.checkLimitFunc(ctx, callerID, party, key, used)
	}
	return nil, errNotImplemented
}

// mockAddresses implements accounts.Service for testing
type mockAddresses struct {
	addresses map[int64]*accounts.BillingAddress
}

func (m *mockAddresses) HasBillingAddress(_ context.Context, userID int64) (bool, error) {
	_, ok := m.addresses[userID]
	return ok, nil
}

func (m *mockAddresses) GetBillingAddress(_ context.Context, userID int64) (*accounts.BillingAddress, error) {
	addr, ok := m.addresses[userID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeBillingAddressRequired, "user %d has no billing address", userID)
	}
	return addr, nil
}

func (m *mockAddresses) UpsertBillingAddress(_ context.Context, addr *accounts.BillingAddress) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	m.addresses[addr.UserID] = addr
	return nil
}
