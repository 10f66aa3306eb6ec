package plans

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Engine answers which plans are subscribable and what they grant,
// and administers the catalog.
type Engine struct {
	store  Store
	cache  *Cache
	logger *observability.Logger
}

// NewEngine creates a new Engine. cache may be nil.
func NewEngine(store Store, cache *Cache, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{store: store, cache: cache, logger: logger}
}

// GetPlan returns a plan regardless of status
func (e *Engine) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	if e.cache != nil {
		if plan := e.cache.Get(ctx, id); plan != nil {
			return plan, nil
		}
	}

	plan, err := e.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, plan)
	}
	return plan, nil
}

// ResolvePlan returns a plan that can be subscribed to.
// It fails with PlanNotFound when absent and PlanInactive when deactivated.
func (e *Engine) ResolvePlan(ctx context.Context, id int64) (*Plan, error) {
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive() {
		return nil, apperrors.NotFound(apperrors.CodePlanInactive, "plan %d is not active", id)
	}
	return plan, nil
}

// ListPlans lists plans by ascending price
func (e *Engine) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	return e.store.ListPlans(ctx, activeOnly)
}

// DefaultPlan returns the default plan, or nil when none is configured
func (e *Engine) DefaultPlan(ctx context.Context) (*Plan, error) {
	return e.store.GetDefaultPlan(ctx)
}

// ComparePlans builds a comparison matrix. With no ids it compares every
// active plan by ascending price; otherwise the named plans, all of which must exist.
func (e *Engine) ComparePlans(ctx context.Context, ids []int64) (*ComparisonMatrix, error) {
	var candidates []*Plan
	var err error
	if len(ids) == 0 {
		candidates, err = e.store.ListPlans(ctx, true)
	} else {
		candidates, err = e.store.GetPlans(ctx, dedupe(ids))
		if err == nil {
			err = checkAllFound(ids, candidates)
		}
	}
	if err != nil {
		return nil, err
	}
	return BuildComparison(candidates), nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func checkAllFound(ids []int64, found []*Plan) error {
	present := make(map[int64]bool, len(found))
	for _, p := range found {
		present[p.ID] = true
	}
	var missing []string
	for _, id := range dedupe(ids) {
		if !present[id] {
			missing = append(missing, fmt.Sprintf("%d", id))
		}
	}
	if len(missing) > 0 {
		return apperrors.NotFound(apperrors.CodePlanNotFound, "plans not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// BuildComparison renders plans over the union of their feature and limit keys.
// Rows keep the order of plans.
func BuildComparison(plans []*Plan) *ComparisonMatrix {
	featureSet := map[string]bool{}
	limitSet := map[string]bool{}
	for _, p := range plans {
		for k := range p.Features {
			featureSet[k] = true
		}
		for k := range p.Limits {
			limitSet[k] = true
		}
	}

	matrix := &ComparisonMatrix{
		FeatureKeys: sortedKeys(featureSet),
		LimitKeys:   sortedKeys(limitSet),
		Rows:        make([]ComparisonRow, 0, len(plans)),
	}

	for _, p := range plans {
		row := ComparisonRow{
			Plan: PlanSummary{
				ID:           p.ID,
				Name:         p.Name,
				Price:        p.Price,
				BillingCycle: p.BillingCycle,
			},
			Features: make(map[string]interface{}, len(matrix.FeatureKeys)),
			Limits:   make(map[string]interface{}, len(matrix.LimitKeys)),
		}
		for _, k := range matrix.FeatureKeys {
			if v, ok := p.Features[k]; ok {
				row.Features[k] = v
			} else {
				row.Features[k] = false
			}
		}
		for _, k := range matrix.LimitKeys {
			v, ok := p.Limits[k]
			switch {
			case !ok:
				row.Limits[k] = false
			case v == Unlimited:
				row.Limits[k] = UnlimitedLabel
			default:
				row.Limits[k] = v
			}
		}
		matrix.Rows = append(matrix.Rows, row)
	}

	return matrix
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CreatePlan adds a plan to the catalog. The (name, billing cycle) pair must be
// unique among active plans.
func (e *Engine) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	existing, err := e.store.FindPlanByNameAndCycle(ctx, name, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict(apperrors.CodeDuplicatePlan, "an active %s plan named %q already exists", req.BillingCycle, name)
	}

	var previousDefault *Plan
	if req.IsDefault {
		if previousDefault, err = e.store.GetDefaultPlan(ctx); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		Name:         name,
		Description:  req.Description,
		Price:        req.Price.Round(2),
		BillingCycle: req.BillingCycle,
		Features:     req.Features,
		Limits:       req.Limits,
		Status:       PlanStatusActive,
		IsDefault:    req.IsDefault,
	}
	if err := e.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	if previousDefault != nil {
		e.invalidate(ctx, previousDefault.ID)
	}

	e.logger.WithFields(map[string]interface{}{
		"plan_id":       plan.ID,
		"name":          plan.Name,
		"billing_cycle": plan.BillingCycle,
	}).Info("plan created")
	return plan, nil
}

// UpdatePlan applies a partial update. Changing the price or limits of a plan that
// subscriptions or billing history reference is allowed but reported as warnings.
func (e *Engine) UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest) (*UpdateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := e.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := *current

	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Price != nil {
		updated.Price = req.Price.Round(2)
	}
	if req.BillingCycle != nil {
		updated.BillingCycle = *req.BillingCycle
	}
	if req.Features != nil {
		updated.Features = req.Features
	}
	if req.Limits != nil {
		updated.Limits = req.Limits
	}
	if req.Status != nil {
		updated.Status = *req.Status
	}

	identityChanged := !strings.EqualFold(updated.Name, current.Name) || updated.BillingCycle != current.BillingCycle
	reactivated := updated.IsActive() && !current.IsActive()
	if updated.IsActive() && (identityChanged || reactivated) {
		existing, err := e.store.FindPlanByNameAndCycle(ctx, updated.Name, updated.BillingCycle)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, apperrors.Conflict(apperrors.CodeDuplicatePlan, "an active %s plan named %q already exists", updated.BillingCycle, updated.Name)
		}
	}
	if !updated.IsActive() {
		updated.IsDefault = false
	}

	var warnings []string
	priceChanged := !updated.Price.Equal(current.Price)
	limitsChanged := !limitsEqual(updated.Limits, current.Limits)
	if priceChanged || limitsChanged {
		subs, history, err := e.store.CountReferences(ctx, id)
		if err != nil {
			return nil, err
		}
		if subs > 0 || history > 0 {
			if priceChanged {
				warnings = append(warnings, fmt.Sprintf(
					"price changed from %s to %s on a plan referenced by %d subscriptions and %d billing records; past invoices keep their recorded amounts",
					current.Price.StringFixed(2), updated.Price.StringFixed(2), subs, history))
			}
			if limitsChanged {
				warnings = append(warnings, fmt.Sprintf(
					"limits changed on a plan referenced by %d subscriptions; existing subscribers receive the new limits immediately", subs))
			}
		}
	}

	if err := e.store.UpdatePlan(ctx, &updated); err != nil {
		return nil, err
	}
	e.invalidate(ctx, id)

	if len(warnings) > 0 {
		e.logger.WithField("plan_id", id).Warnf("in-use plan updated: %s", strings.Join(warnings, "; "))
	}
	return &UpdateResult{Plan: &updated, Warnings: warnings}, nil
}

func limitsEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// SetDefaultPlan marks an active plan as the catalog default
func (e *Engine) SetDefaultPlan(ctx context.Context, id int64) error {
	if _, err := e.ResolvePlan(ctx, id); err != nil {
		return err
	}
	previous, err := e.store.GetDefaultPlan(ctx)
	if err != nil {
		return err
	}
	if err := e.store.SetDefaultPlan(ctx, id); err != nil {
		return err
	}

	e.invalidate(ctx, id)
	if previous != nil && previous.ID != id {
		e.invalidate(ctx, previous.ID)
	}
	e.logger.WithField("plan_id", id).Info("default plan changed")
	return nil
}

// DeactivatePlan soft-deletes a plan. Existing subscriptions keep running;
// the plan can no longer be resolved for new ones.
func (e *Engine) DeactivatePlan(ctx context.Context, id int64) error {
	if err := e.store.SetPlanStatus(ctx, id, PlanStatusInactive); err != nil {
		return err
	}
	e.invalidate(ctx, id)

	active, err := e.store.CountActiveSubscriptions(ctx, id)
	if err == nil && active > 0 {
		e.logger.WithField("plan_id", id).Infof("plan deactivated with %d open subscriptions", active)
	}
	return nil
}

// PurgePlan hard-deletes a plan that no subscription or billing record references
func (e *Engine) PurgePlan(ctx context.Context, id int64) error {
	if _, err := e.store.GetPlan(ctx, id); err != nil {
		return err
	}

	subs, history, err := e.store.CountReferences(ctx, id)
	if err != nil {
		return err
	}
	if subs > 0 || history > 0 {
		return apperrors.Conflict(apperrors.CodePlanInUse,
			"plan %d is referenced by %d subscriptions and %d billing records; deactivate it instead", id, subs, history)
	}

	if err := e.store.DeletePlan(ctx, id); err != nil {
		return err
	}
	e.invalidate(ctx, id)
	e.logger.WithField("plan_id", id).Info("plan purged")
	return nil
}

func (e *Engine) invalidate(ctx context.Context, ids ...int64) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, ids...)
	}
}
