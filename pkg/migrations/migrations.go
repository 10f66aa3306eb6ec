// Package migrations holds the ordered PostgreSQL schema and applies it.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// All returns every migration in version order
func All() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id BIGINT NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_members (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(16) NOT NULL CHECK (role IN ('OWNER', 'ADMIN', 'MEMBER')),
					status VARCHAR(16) NOT NULL CHECK (status IN ('ACTIVE', 'INVITED', 'SUSPENDED')),
					joined_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (organization_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_organization_members_user_id ON organization_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create billing addresses",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_addresses (
					user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					full_name VARCHAR(255) NOT NULL,
					line1 VARCHAR(255) NOT NULL,
					line2 VARCHAR(255),
					city VARCHAR(128) NOT NULL,
					postal_code VARCHAR(32) NOT NULL,
					country CHAR(2) NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create plans",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					price NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
					billing_cycle VARCHAR(16) NOT NULL CHECK (billing_cycle IN ('MONTHLY', 'YEARLY')),
					features JSONB NOT NULL DEFAULT '{}',
					limits JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE UNIQUE INDEX IF NOT EXISTS plans_name_cycle_active_idx
					ON plans (lower(name), billing_cycle) WHERE status = 'active';
				CREATE UNIQUE INDEX IF NOT EXISTS plans_single_default_idx
					ON plans ((TRUE)) WHERE is_default;
				CREATE INDEX IF NOT EXISTS idx_plans_price ON plans(price);
			`,
		},
		{
			Version:     4,
			Description: "Create subscriptions",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT REFERENCES users(id),
					organization_id BIGINT REFERENCES organizations(id),
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					status VARCHAR(16) NOT NULL
						CHECK (status IN ('PENDING', 'ACTIVE', 'TRIAL', 'CANCELLED', 'EXPIRED')),
					billing_cycle VARCHAR(16) NOT NULL CHECK (billing_cycle IN ('MONTHLY', 'YEARLY')),
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ NOT NULL,
					auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
					last_payment_date TIMESTAMPTZ,
					next_payment_date TIMESTAMPTZ,
					cancelled_at TIMESTAMPTZ,
					previous_subscription_id BIGINT REFERENCES subscriptions(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT subscriptions_one_party CHECK ((user_id IS NULL) <> (organization_id IS NULL))
				);
				CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_open_user_idx
					ON subscriptions(user_id) WHERE status IN ('PENDING', 'ACTIVE', 'TRIAL') AND user_id IS NOT NULL;
				CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_open_org_idx
					ON subscriptions(organization_id) WHERE status IN ('PENDING', 'ACTIVE', 'TRIAL') AND organization_id IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_id ON subscriptions(plan_id);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_sweep ON subscriptions(status, end_date);
			`,
		},
		{
			Version:     5,
			Description: "Create billing history and payment transactions",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_history (
					id BIGSERIAL PRIMARY KEY,
					subscription_id BIGINT REFERENCES subscriptions(id),
					user_id BIGINT REFERENCES users(id),
					organization_id BIGINT REFERENCES organizations(id),
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					invoice_number VARCHAR(32) NOT NULL UNIQUE,
					amount NUMERIC(12, 2) NOT NULL CHECK (amount >= 0),
					status VARCHAR(16) NOT NULL CHECK (status IN ('PAID', 'PENDING', 'FAILED')),
					reason VARCHAR(16) NOT NULL CHECK (reason IN ('INITIAL', 'UPGRADE', 'DOWNGRADE', 'RENEWAL')),
					paid_at TIMESTAMPTZ,
					payment_method VARCHAR(64),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT billing_history_one_party CHECK ((user_id IS NULL) <> (organization_id IS NULL))
				);
				CREATE INDEX IF NOT EXISTS idx_billing_history_user_id ON billing_history(user_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_billing_history_org_id ON billing_history(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_billing_history_plan_id ON billing_history(plan_id);

				CREATE TABLE IF NOT EXISTS payment_transactions (
					id BIGSERIAL PRIMARY KEY,
					subscription_id BIGINT NOT NULL REFERENCES subscriptions(id),
					payment_gateway VARCHAR(32) NOT NULL,
					transaction_id VARCHAR(128) NOT NULL UNIQUE,
					amount NUMERIC(12, 2) NOT NULL,
					status VARCHAR(16) NOT NULL CHECK (status IN ('PAID', 'PENDING', 'FAILED')),
					webhook_data JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_payment_transactions_subscription_id ON payment_transactions(subscription_id);
			`,
		},
	}
}

// Apply runs every migration that has not been recorded yet, each in its own
// transaction.
func Apply(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range All() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		err := postgres.WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Info("migration completed")
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
