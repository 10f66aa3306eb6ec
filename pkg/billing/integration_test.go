//go:build integration

package billing_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/migrations"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tenancy_test"),
		postgres.WithUsername("tenancy"),
		postgres.WithPassword("tenancy_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, migrations.Apply(ctx, db, observability.NopLogger()))
	return db
}

func seed(t *testing.T, db *sql.DB) (ownerID, adminID, orgID int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO users (email, full_name) VALUES ('owner@example.com', 'Owner') RETURNING id`).Scan(&ownerID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO users (email, full_name) VALUES ('admin@example.com', 'Admin') RETURNING id`).Scan(&adminID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO organizations (name, owner_id) VALUES ('Acme', $1) RETURNING id`, ownerID).Scan(&orgID))
	_, err := db.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role, status, joined_at)
		VALUES ($1, $2, 'OWNER', 'ACTIVE', NOW()), ($1, $3, 'ADMIN', 'ACTIVE', NOW())`,
		orgID, ownerID, adminID)
	require.NoError(t, err)

	addresses := accounts.NewPostgresService(db)
	require.NoError(t, addresses.UpsertBillingAddress(ctx, &accounts.BillingAddress{
		UserID: ownerID, FullName: "Owner", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
	}))
	return ownerID, adminID, orgID
}

func TestLifecycle_Postgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	ownerID, adminID, orgID := seed(t, db)

	engine := plans.NewEngine(plans.NewPostgresStore(db), nil, observability.NopLogger())
	basic, err := engine.CreatePlan(ctx, &plans.CreatePlanRequest{
		Name: "Basic", Price: decimal.NewFromInt(100), BillingCycle: plans.BillingCycleMonthly,
		Limits: map[string]int64{"seats": 5},
	})
	require.NoError(t, err)
	pro, err := engine.CreatePlan(ctx, &plans.CreatePlanRequest{
		Name: "Pro", Price: decimal.NewFromInt(200), BillingCycle: plans.BillingCycleMonthly,
		Limits: map[string]int64{"seats": plans.Unlimited},
	})
	require.NoError(t, err)

	store := billing.NewPostgresStore(db)
	manager := billing.NewManager(store, engine,
		orgs.NewAuthorizer(orgs.NewPostgresService(db)),
		accounts.NewPostgresService(db),
		payments.NewMockGateway("https://pay.test"),
		observability.NopLogger())
	party := orgs.OrganizationParty(orgID)

	t.Run("admin cannot subscribe the organization", func(t *testing.T) {
		_, err := manager.Create(ctx, adminID, &billing.CreateSubscriptionRequest{Party: party, PlanID: basic.ID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("concurrent creates leave one open subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := manager.Create(ctx, ownerID, &billing.CreateSubscriptionRequest{Party: party, PlanID: basic.ID})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicateSubscription), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded)

		var open int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM subscriptions WHERE organization_id = $1 AND status IN ('PENDING', 'ACTIVE', 'TRIAL')`,
			orgID).Scan(&open))
		assert.Equal(t, 1, open)
	})

	t.Run("activate then upgrade", func(t *testing.T) {
		pending, err := store.FindOpenSubscription(ctx, party)
		require.NoError(t, err)
		require.NotNil(t, pending)
		txns, err := store.ListTransactions(ctx, pending.ID)
		require.NoError(t, err)
		require.Len(t, txns, 1)

		active, err := manager.Activate(ctx, pending.ID, &billing.ActivateRequest{
			TransactionID: txns[0].TransactionID,
			WebhookData:   []byte(`{"status":"succeeded"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, active.Status)

		result, err := manager.Upgrade(ctx, ownerID, active.ID, &billing.ChangePlanRequest{PlanID: pro.ID})
		require.NoError(t, err)

		old, err := store.GetSubscription(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelled, old.Status)
		assert.Equal(t, billing.StatusActive, result.Subscription.Status)

		history, err := manager.ListBillingHistory(ctx, ownerID, party, 0)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, billing.ReasonUpgrade, history[0].Reason)
		assert.Equal(t, billing.PaymentPaid, history[0].Status)

		_, err = manager.Cancel(ctx, ownerID, old.ID, true)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyCancelled))
	})

	t.Run("in-use plan cannot be purged", func(t *testing.T) {
		err := engine.PurgePlan(ctx, basic.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanInUse))
	})
}
