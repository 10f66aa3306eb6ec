// Package plans implements the plan catalog and the entitlement engine.
//
// # Overview
//
// A plan has a price, a billing cycle (MONTHLY or YEARLY), an open map of
// features and an open map of numeric limits where -1 means unlimited.
// The engine answers whether a plan is subscribable, compares plans across
// the union of their keys, and administers the catalog: create, update,
// set default, deactivate (soft delete) and purge (hard delete).
//
// # Usage Example
//
//	engine := plans.NewEngine(plans.NewPostgresStore(db), cache, logger)
//	plan, err := engine.ResolvePlan(ctx, planID)
//	if apperrors.HasCode(err, apperrors.CodePlanInactive) {
//		// plan was deactivated
//	}
//
//	matrix, err := engine.ComparePlans(ctx, nil) // all active plans by price
//
// # Caching
//
// Plans are cached by ID in an in-process LRU and optionally in redis.
// Every write through the engine invalidates both levels.
package plans
