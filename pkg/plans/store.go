package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

// Store is the plan catalog persistence port
type Store interface {
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	GetPlans(ctx context.Context, ids []int64) ([]*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error)
	FindPlanByNameAndCycle(ctx context.Context, name string, cycle BillingCycle) (*Plan, error)
	GetDefaultPlan(ctx context.Context) (*Plan, error)
	CreatePlan(ctx context.Context, plan *Plan) error
	UpdatePlan(ctx context.Context, plan *Plan) error
	SetDefaultPlan(ctx context.Context, id int64) error
	SetPlanStatus(ctx context.Context, id int64, status PlanStatus) error
	DeletePlan(ctx context.Context, id int64) error
	CountActiveSubscriptions(ctx context.Context, planID int64) (int, error)
	CountReferences(ctx context.Context, planID int64) (subscriptions int, billingHistory int, err error)
}

const (
	planColumns = `id, name, description, price, billing_cycle, features, limits, status, is_default, created_at, updated_at`

	// constraint names from the plans migration
	planNameCycleConstraint = "plans_name_cycle_active_idx"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	plan := &Plan{}
	var description sql.NullString
	var featuresJSON, limitsJSON []byte
	err := row.Scan(
		&plan.ID, &plan.Name, &description, &plan.Price, &plan.BillingCycle,
		&featuresJSON, &limitsJSON, &plan.Status, &plan.IsDefault,
		&plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.Description = description.String

	plan.Features = map[string]interface{}{}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &plan.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
	}
	plan.Limits = map[string]int64{}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &plan.Limits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
		}
	}
	return plan, nil
}

func marshalEntitlements(plan *Plan) ([]byte, []byte, error) {
	features := plan.Features
	if features == nil {
		features = map[string]interface{}{}
	}
	limits := plan.Limits
	if limits == nil {
		limits = map[string]int64{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal limits: %w", err)
	}
	return featuresJSON, limitsJSON, nil
}

// GetPlan retrieves a plan by ID
func (s *PostgresStore) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Persistence("get plan", err)
	}
	return plan, nil
}

// GetPlans retrieves the given plans ordered by ascending price
func (s *PostgresStore) GetPlans(ctx context.Context, ids []int64) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ANY($1) ORDER BY price ASC, id ASC`
	return s.queryPlans(ctx, "get plans", query, pq.Array(ids))
}

// ListPlans lists plans ordered by ascending price
func (s *PostgresStore) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY price ASC, id ASC`
	return s.queryPlans(ctx, "list plans", query)
}

func (s *PostgresStore) queryPlans(ctx context.Context, op, query string, args ...interface{}) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Persistence(op, err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, apperrors.Persistence(op, err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(op, err)
	}
	return plans, nil
}

// FindPlanByNameAndCycle returns the active plan with the given name and cycle, or nil
func (s *PostgresStore) FindPlanByNameAndCycle(ctx context.Context, name string, cycle BillingCycle) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans
		WHERE lower(name) = lower($1) AND billing_cycle = $2 AND status = 'active'`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, name, cycle))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("find plan", err)
	}
	return plan, nil
}

// GetDefaultPlan returns the default plan, or nil when none is set
func (s *PostgresStore) GetDefaultPlan(ctx context.Context) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE is_default = TRUE AND status = 'active'`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("get default plan", err)
	}
	return plan, nil
}

// CreatePlan inserts a plan. A default plan clears the previous default in the same transaction.
func (s *PostgresStore) CreatePlan(ctx context.Context, plan *Plan) error {
	featuresJSON, limitsJSON, err := marshalEntitlements(plan)
	if err != nil {
		return apperrors.Persistence("create plan", err)
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if plan.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
				return fmt.Errorf("failed to clear default plan: %w", err)
			}
		}

		query := `
			INSERT INTO plans (name, description, price, billing_cycle, features, limits, status, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query,
			plan.Name, plan.Description, plan.Price, plan.BillingCycle,
			featuresJSON, limitsJSON, plan.Status, plan.IsDefault,
		).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	})
	if postgres.IsUniqueViolation(err, planNameCycleConstraint) {
		return apperrors.Conflict(apperrors.CodeDuplicatePlan, "an active %s plan named %q already exists", plan.BillingCycle, plan.Name)
	}
	if err != nil {
		return apperrors.Persistence("create plan", err)
	}
	return nil
}

// UpdatePlan writes every mutable column of plan
func (s *PostgresStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	featuresJSON, limitsJSON, err := marshalEntitlements(plan)
	if err != nil {
		return apperrors.Persistence("update plan", err)
	}

	query := `
		UPDATE plans
		SET name = $1, description = $2, price = $3, billing_cycle = $4,
		    features = $5, limits = $6, status = $7, is_default = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		plan.Name, plan.Description, plan.Price, plan.BillingCycle,
		featuresJSON, limitsJSON, plan.Status, plan.IsDefault, plan.ID,
	).Scan(&plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", plan.ID)
	}
	if postgres.IsUniqueViolation(err, planNameCycleConstraint) {
		return apperrors.Conflict(apperrors.CodeDuplicatePlan, "an active %s plan named %q already exists", plan.BillingCycle, plan.Name)
	}
	if err != nil {
		return apperrors.Persistence("update plan", err)
	}
	return nil
}

// SetDefaultPlan makes id the only default plan
func (s *PostgresStore) SetDefaultPlan(ctx context.Context, id int64) error {
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = FALSE WHERE is_default = TRUE AND id <> $1`, id); err != nil {
			return fmt.Errorf("failed to clear default plan: %w", err)
		}

		result, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to set default plan: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
		}
		return nil
	})
	return apperrors.Persistence("set default plan", err)
}

// SetPlanStatus changes the catalog status of a plan. Deactivating also drops the default flag.
func (s *PostgresStore) SetPlanStatus(ctx context.Context, id int64, status PlanStatus) error {
	query := `
		UPDATE plans
		SET status = $1::varchar, is_default = CASE WHEN $1::varchar = 'active' THEN is_default ELSE FALSE END, updated_at = NOW()
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, status, id)
	if postgres.IsUniqueViolation(err, planNameCycleConstraint) {
		return apperrors.Conflict(apperrors.CodeDuplicatePlan, "another active plan has the same name and billing cycle")
	}
	if err != nil {
		return apperrors.Persistence("set plan status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Persistence("set plan status", err)
	}
	if rows == 0 {
		return apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
	}
	return nil
}

// DeletePlan hard-deletes a plan
func (s *PostgresStore) DeletePlan(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return apperrors.Persistence("delete plan", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Persistence("delete plan", err)
	}
	if rows == 0 {
		return apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
	}
	return nil
}

// CountActiveSubscriptions counts open (ACTIVE, TRIAL, PENDING) subscriptions on a plan
func (s *PostgresStore) CountActiveSubscriptions(ctx context.Context, planID int64) (int, error) {
	query := `SELECT COUNT(*) FROM subscriptions WHERE plan_id = $1 AND status IN ('ACTIVE', 'TRIAL', 'PENDING')`
	var count int
	if err := s.db.QueryRowContext(ctx, query, planID).Scan(&count); err != nil {
		return 0, apperrors.Persistence("count active subscriptions", err)
	}
	return count, nil
}

// CountReferences counts every subscription and billing history row referencing a plan
func (s *PostgresStore) CountReferences(ctx context.Context, planID int64) (int, int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM subscriptions WHERE plan_id = $1),
			(SELECT COUNT(*) FROM billing_history WHERE plan_id = $1)
	`
	var subscriptions, history int
	if err := s.db.QueryRowContext(ctx, query, planID).Scan(&subscriptions, &history); err != nil {
		return 0, 0, apperrors.Persistence("count plan references", err)
	}
	return subscriptions, history, nil
}
