package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

var errDuplicateTransaction = errors.New("duplicate transaction id")

const (
	planBasic   int64 = 1 // 100 / month
	planPro     int64 = 2 // 200 / month
	planStarter int64 = 3 // 50 / month
	planLegacy  int64 = 4 // inactive
	planBasicB  int64 = 5 // 100 / month, same price as basic

	userOwner   int64 = 1
	userAdmin   int64 = 2
	userInvited int64 = 3
	userNoAddr  int64 = 4
	userOther   int64 = 5

	orgAcme int64 = 10
)

var periodStart = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakePlans struct {
	plans       map[int64]*plans.Plan
	defaultPlan int64
}

func (f *fakePlans) GetPlan(ctx context.Context, id int64) (*plans.Plan, error) {
	plan, ok := f.plans[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
	}
	return plan, nil
}

func (f *fakePlans) ResolvePlan(ctx context.Context, id int64) (*plans.Plan, error) {
	plan, err := f.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive() {
		return nil, apperrors.NotFound(apperrors.CodePlanInactive, "plan %d is not active", id)
	}
	return plan, nil
}

func (f *fakePlans) DefaultPlan(ctx context.Context) (*plans.Plan, error) {
	if f.defaultPlan == 0 {
		return nil, nil
	}
	return f.plans[f.defaultPlan], nil
}

type fakeOrgs struct {
	orgs    map[int64]*orgs.Organization
	members map[[2]int64]*orgs.Member
}

func (f *fakeOrgs) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeOrganizationNotFound, "organization %d not found", id)
	}
	return org, nil
}

func (f *fakeOrgs) GetMember(ctx context.Context, orgID, userID int64) (*orgs.Member, error) {
	member, ok := f.members[[2]int64{orgID, userID}]
	if !ok {
		return nil, apperrors.Forbidden(apperrors.CodeNotMember, "user %d is not a member of organization %d", userID, orgID)
	}
	return member, nil
}

func (f *fakeOrgs) ListMemberships(ctx context.Context, userID int64) ([]*orgs.Member, error) {
	return nil, nil
}

type fakeAddresses map[int64]bool

func (f fakeAddresses) HasBillingAddress(ctx context.Context, userID int64) (bool, error) {
	return f[userID], nil
}

func testPlan(id int64, name, price string, status plans.PlanStatus, limits map[string]int64) *plans.Plan {
	return &plans.Plan{
		ID:           id,
		Name:         name,
		Price:        decimal.RequireFromString(price),
		BillingCycle: plans.BillingCycleMonthly,
		Features:     map[string]interface{}{"sso": id == planPro},
		Limits:       limits,
		Status:       status,
	}
}

type fixture struct {
	store   *memStore
	plans   *fakePlans
	clock   *testClock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{t: periodStart}
	store := newMemStore()
	store.now = clock.Now

	catalog := &fakePlans{plans: map[int64]*plans.Plan{
		planBasic:   testPlan(planBasic, "Basic", "100", plans.PlanStatusActive, map[string]int64{"seats": 5, "projects": 10}),
		planPro:     testPlan(planPro, "Pro", "200", plans.PlanStatusActive, map[string]int64{"seats": 50, "apiCalls": plans.Unlimited}),
		planStarter: testPlan(planStarter, "Starter", "50", plans.PlanStatusActive, map[string]int64{"seats": 1}),
		planLegacy:  testPlan(planLegacy, "Legacy", "300", plans.PlanStatusInactive, nil),
		planBasicB:  testPlan(planBasicB, "Basic Plus", "100", plans.PlanStatusActive, nil),
	}, defaultPlan: planStarter}

	orgService := &fakeOrgs{
		orgs: map[int64]*orgs.Organization{orgAcme: {ID: orgAcme, Name: "Acme", OwnerID: userOwner}},
		members: map[[2]int64]*orgs.Member{
			{orgAcme, userOwner}:   {OrganizationID: orgAcme, UserID: userOwner, Role: orgs.RoleOwner, Status: orgs.MemberStatusActive},
			{orgAcme, userAdmin}:   {OrganizationID: orgAcme, UserID: userAdmin, Role: orgs.RoleAdmin, Status: orgs.MemberStatusActive},
			{orgAcme, userInvited}: {OrganizationID: orgAcme, UserID: userInvited, Role: orgs.RoleOwner, Status: orgs.MemberStatusInvited},
		},
	}

	addresses := fakeAddresses{userOwner: true, userAdmin: true, userInvited: true, userOther: true}

	manager := NewManager(store, catalog, orgs.NewAuthorizer(orgService), addresses,
		payments.NewMockGateway("https://pay.test"), observability.NopLogger(),
		WithClock(clock.Now), WithPendingTimeout(time.Hour))

	return &fixture{store: store, plans: catalog, clock: clock, manager: manager}
}

// active creates and activates a subscription for party on planID
func (f *fixture) active(t *testing.T, caller int64, party orgs.BilledParty, planID int64, autoRenew bool) *Subscription {
	t.Helper()
	ctx := context.Background()

	checkout, err := f.manager.Create(ctx, caller, &CreateSubscriptionRequest{Party: party, PlanID: planID, AutoRenew: autoRenew})
	require.NoError(t, err)
	sub, err := f.manager.Activate(ctx, checkout.Subscription.ID, &ActivateRequest{TransactionID: checkout.Transaction.TransactionID})
	require.NoError(t, err)
	return sub
}
