package billing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// ExpireDue closes subscriptions whose time has run out.
//
// ACTIVE and TRIAL rows past their end date without auto-renew are closed:
// CANCELLED when a cancel was scheduled, EXPIRED otherwise. PENDING rows
// whose checkout is older than the pending timeout become EXPIRED. A row
// that fails is reported in Failed and the sweep carries on.
func (m *Manager) ExpireDue(ctx context.Context) (result *SweepResult, err error) {
	ctx, span := m.startSpan(ctx, "ExpireDue")
	defer func() { m.finish(span, "expire", err) }()

	now := m.now()
	pendingBefore := now.Add(-m.pendingTimeout)
	due, err := m.store.ListExpirable(ctx, now, pendingBefore)
	if err != nil {
		return nil, err
	}

	result = &SweepResult{}
	for _, candidate := range due {
		var sub *Subscription
		var from SubscriptionStatus
		err := m.store.InTx(ctx, func(tx Store) error {
			var err error
			sub, err = tx.GetSubscription(ctx, candidate.ID)
			if err != nil {
				return err
			}
			from = sub.Status
			switch {
			case sub.Status == StatusPending && !sub.CreatedAt.After(pendingBefore):
				sub.Status = StatusExpired
			case (sub.Status == StatusActive || sub.Status == StatusTrial) && !sub.AutoRenew && !sub.EndDate.After(now):
				sub.Status = StatusExpired
				if sub.CancelledAt != nil {
					sub.Status = StatusCancelled
				}
			default:
				// changed since listing
				sub = nil
				return nil
			}
			sub.NextPaymentDate = nil
			return tx.UpdateSubscription(ctx, sub)
		})
		if err != nil {
			m.logger.WithError(err).WithField("subscription_id", candidate.ID).Error("failed to expire subscription")
			result.Failed = append(result.Failed, candidate.ID)
			continue
		}
		if sub == nil {
			continue
		}
		result.Expired = append(result.Expired, sub.ID)
		m.transitioned(ctx, sub, from)
	}

	m.metrics.RecordExpired(len(result.Expired))
	span.SetAttributes(attribute.Int("expired", len(result.Expired)), attribute.Int("failed", len(result.Failed)))
	return result, nil
}

// RenewDue rolls auto-renewing subscriptions into their next period and
// appends a PAID renewal row per period. A TRIAL that renews becomes ACTIVE.
// Subscriptions whose plan has been deactivated expire instead.
func (m *Manager) RenewDue(ctx context.Context) (result *SweepResult, err error) {
	ctx, span := m.startSpan(ctx, "RenewDue")
	defer func() { m.finish(span, "renew", err) }()

	now := m.now()
	due, err := m.store.ListRenewable(ctx, now)
	if err != nil {
		return nil, err
	}

	result = &SweepResult{}
	for _, candidate := range due {
		var sub *Subscription
		var from SubscriptionStatus
		err := m.store.InTx(ctx, func(tx Store) error {
			var err error
			sub, err = tx.GetSubscription(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if (sub.Status != StatusActive && sub.Status != StatusTrial) || !sub.AutoRenew || sub.EndDate.After(now) {
				sub = nil
				return nil
			}
			from = sub.Status

			plan, err := m.plans.GetPlan(ctx, sub.PlanID)
			if err != nil && !apperrors.HasCode(err, apperrors.CodePlanNotFound) {
				return err
			}
			if plan == nil || !plan.IsActive() {
				sub.Status = StatusExpired
				sub.AutoRenew = false
				sub.NextPaymentDate = nil
				return tx.UpdateSubscription(ctx, sub)
			}

			amount := plan.PriceFor(sub.BillingCycle)
			for !sub.EndDate.After(now) {
				sub.StartDate = sub.EndDate
				sub.EndDate = sub.BillingCycle.PeriodEnd(sub.StartDate)
				if err := tx.CreateBillingHistory(ctx, &BillingHistory{
					SubscriptionID: &sub.ID,
					BilledParty:    sub.BilledParty,
					PlanID:         sub.PlanID,
					InvoiceNumber:  NewInvoiceNumber(sub.StartDate),
					Amount:         amount,
					Status:         PaymentPaid,
					Reason:         ReasonRenewal,
					PaidAt:         &now,
				}); err != nil {
					return err
				}
			}
			sub.Status = StatusActive
			sub.LastPaymentDate = &now
			next := sub.EndDate
			sub.NextPaymentDate = &next
			return tx.UpdateSubscription(ctx, sub)
		})
		if err != nil {
			m.logger.WithError(err).WithField("subscription_id", candidate.ID).Error("failed to renew subscription")
			result.Failed = append(result.Failed, candidate.ID)
			continue
		}
		if sub == nil {
			continue
		}
		if sub.Status == StatusExpired {
			result.Expired = append(result.Expired, sub.ID)
			m.transitioned(ctx, sub, from)
			continue
		}
		result.Renewed = append(result.Renewed, sub.ID)
		if from != sub.Status {
			m.transitioned(ctx, sub, from)
		}
	}

	span.SetAttributes(attribute.Int("renewed", len(result.Renewed)), attribute.Int("expired", len(result.Expired)))
	return result, nil
}
