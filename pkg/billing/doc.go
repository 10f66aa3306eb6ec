// Package billing manages the subscription lifecycle of a billed party.
//
// # Overview
//
// A billed party is a single user or a single organization. Each party holds
// at most one open subscription (PENDING, ACTIVE or TRIAL) at a time; the
// Postgres schema enforces this with partial unique indexes and the store
// reports violations as Conflict/DuplicateSubscription.
//
//	PENDING --activate--> ACTIVE | TRIAL
//	PENDING --timeout---> EXPIRED
//	ACTIVE  --cancel----> CANCELLED
//	ACTIVE  --upgrade---> CANCELLED  (+ new ACTIVE row)
//	ACTIVE  --end date--> EXPIRED    (no auto-renew)
//
// # Plan changes
//
// Upgrade and Downgrade never mutate a subscription's plan in place. The
// current row is cancelled at the effective date and a new ACTIVE row is
// created for the target plan. The charge is computed by Prorate:
//
//	credit   = currentPrice / totalDays * remainingDays
//	prorated = newPrice - credit
//	billed   = max(0, prorated)
//
// and appended to the ledger as a PAID BillingHistory row in the same
// transaction.
//
// # Usage Example
//
//	manager := billing.NewManager(
//		billing.NewPostgresStore(db),
//		planEngine,
//		orgs.NewAuthorizer(orgService),
//		accounts.NewPostgresService(db),
//		payments.NewMockGateway(cfg.Payments.CheckoutBaseURL),
//		logger,
//		billing.WithMetrics(metrics),
//	)
//
//	checkout, err := manager.Create(ctx, callerID, &billing.CreateSubscriptionRequest{
//		Party:  orgs.OrganizationParty(orgID),
//		PlanID: planID,
//	})
//
// # Sweeps
//
// ExpireDue and RenewDue are driven by the tenancy-sweeper command on a cron
// schedule. Both re-check each row under lock, so running them concurrently
// with API traffic is safe.
package billing
