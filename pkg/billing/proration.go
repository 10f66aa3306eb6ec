package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Proration is the outcome of switching plans mid-cycle
type Proration struct {
	TotalDays      int64           `json:"total_days"`
	RemainingDays  int64           `json:"remaining_days"`
	UnusedCredit   decimal.Decimal `json:"unused_credit"`
	ProratedAmount decimal.Decimal `json:"prorated_amount"`
	BilledAmount   decimal.Decimal `json:"billed_amount"`
}

// Prorate credits the unused part of the current period against newPrice.
//
// Days are counted in whole days rounded up. Remaining days are clamped to
// [0, totalDays]; a zero-length period credits the full current price. The
// billed amount never goes below zero. Amounts are rounded to cents last.
func Prorate(currentPrice, newPrice decimal.Decimal, start, end, now time.Time) Proration {
	total := ceilDays(end.Sub(start))
	remaining := ceilDays(end.Sub(now))
	if remaining > total {
		remaining = total
	}

	credit := currentPrice
	if total > 0 {
		credit = currentPrice.Mul(decimal.NewFromInt(remaining)).Div(decimal.NewFromInt(total))
	}

	prorated := newPrice.Sub(credit)
	billed := prorated
	if billed.IsNegative() {
		billed = decimal.Zero
	}

	return Proration{
		TotalDays:      total,
		RemainingDays:  remaining,
		UnusedCredit:   credit.Round(2),
		ProratedAmount: prorated.Round(2),
		BilledAmount:   billed.Round(2),
	}
}

func ceilDays(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	n := int64(d / day)
	if d%day != 0 {
		n++
	}
	return n
}
