package plans

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// BillingCycle is the renewal period of a plan or subscription
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

// Valid reports whether the cycle is one of the known values
func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// PeriodEnd returns the end of one cycle starting at start
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	if c == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// ParseBillingCycle normalizes user input such as "monthly"
func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid billing cycle %q (must be MONTHLY or YEARLY)", s)
	}
	return c, nil
}

// PlanStatus is the catalog status of a plan
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
)

// Unlimited is the limit value meaning no cap
const Unlimited int64 = -1

// Plan is a subscribable catalog entry
type Plan struct {
	ID           int64                  `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Price        decimal.Decimal        `json:"price"`
	BillingCycle BillingCycle           `json:"billing_cycle"`
	Features     map[string]interface{} `json:"features"`
	Limits       map[string]int64       `json:"limits"`
	Status       PlanStatus             `json:"status"`
	IsDefault    bool                   `json:"is_default"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// IsActive reports whether the plan can be subscribed to
func (p *Plan) IsActive() bool {
	return p.Status == PlanStatusActive
}

// Limit returns the named limit and whether the plan defines it
func (p *Plan) Limit(key string) (int64, bool) {
	v, ok := p.Limits[key]
	return v, ok
}

// Allows reports whether used units fit within the named limit.
// An absent limit grants nothing; Unlimited always passes.
func (p *Plan) Allows(key string, used int64) bool {
	limit, ok := p.Limit(key)
	if !ok {
		return false
	}
	return limit == Unlimited || used <= limit
}

// PriceFor returns the price of one period in cycle. Prices convert between
// cycles at twelve months per year.
func (p *Plan) PriceFor(cycle BillingCycle) decimal.Decimal {
	switch {
	case cycle == p.BillingCycle || !cycle.Valid():
		return p.Price
	case cycle == BillingCycleYearly:
		return p.Price.Mul(decimal.NewFromInt(12))
	default:
		return p.Price.Div(decimal.NewFromInt(12)).Round(2)
	}
}

// CreatePlanRequest represents a request to add a plan to the catalog
type CreatePlanRequest struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Price        decimal.Decimal        `json:"price"`
	BillingCycle BillingCycle           `json:"billing_cycle"`
	Features     map[string]interface{} `json:"features,omitempty"`
	Limits       map[string]int64       `json:"limits,omitempty"`
	IsDefault    bool                   `json:"is_default,omitempty"`
}

// Validate checks required fields and value ranges
func (r *CreatePlanRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "plan name is required")
	}
	if r.Price.IsNegative() {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "plan price must not be negative")
	}
	if !r.BillingCycle.Valid() {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid billing cycle %q", r.BillingCycle)
	}
	return validateLimits(r.Limits)
}

// UpdatePlanRequest represents a partial plan update; nil fields are left unchanged
type UpdatePlanRequest struct {
	Name         *string                `json:"name,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Price        *decimal.Decimal       `json:"price,omitempty"`
	BillingCycle *BillingCycle          `json:"billing_cycle,omitempty"`
	Features     map[string]interface{} `json:"features,omitempty"`
	Limits       map[string]int64       `json:"limits,omitempty"`
	Status       *PlanStatus            `json:"status,omitempty"`
}

// Validate checks the fields that are present
func (r *UpdatePlanRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "plan name must not be empty")
	}
	if r.Price != nil && r.Price.IsNegative() {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "plan price must not be negative")
	}
	if r.BillingCycle != nil && !r.BillingCycle.Valid() {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid billing cycle %q", *r.BillingCycle)
	}
	if r.Status != nil && *r.Status != PlanStatusActive && *r.Status != PlanStatusInactive {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid plan status %q", *r.Status)
	}
	return validateLimits(r.Limits)
}

func validateLimits(limits map[string]int64) error {
	for key, v := range limits {
		if v < Unlimited {
			return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "limit %q must be -1 (unlimited) or non-negative", key)
		}
	}
	return nil
}

// UpdateResult is the outcome of a plan update
type UpdateResult struct {
	Plan     *Plan    `json:"plan"`
	Warnings []string `json:"warnings,omitempty"`
}

// PlanSummary identifies a plan in a comparison
type PlanSummary struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
}

// ComparisonRow holds one plan's values for every key in the matrix.
// Feature values are the plan's own or false; limit values are a number,
// the string "Unlimited", or false.
type ComparisonRow struct {
	Plan     PlanSummary            `json:"plan"`
	Features map[string]interface{} `json:"features"`
	Limits   map[string]interface{} `json:"limits"`
}

// ComparisonMatrix compares plans across the union of their keys
type ComparisonMatrix struct {
	FeatureKeys []string        `json:"feature_keys"`
	LimitKeys   []string        `json:"limit_keys"`
	Rows        []ComparisonRow `json:"rows"`
}

// UnlimitedLabel is how an unlimited limit renders in a comparison
const UnlimitedLabel = "Unlimited"
