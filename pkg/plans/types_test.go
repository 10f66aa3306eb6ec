package plans

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

func TestBillingCycle_PeriodEnd(t *testing.T) {
	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), BillingCycleMonthly.PeriodEnd(start))
	assert.Equal(t, time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC), BillingCycleYearly.PeriodEnd(start))
}

func TestParseBillingCycle(t *testing.T) {
	c, err := ParseBillingCycle(" monthly ")
	require.NoError(t, err)
	assert.Equal(t, BillingCycleMonthly, c)

	c, err = ParseBillingCycle(" yearly ")
	require.NoError(t, err)
	assert.Equal(t, BillingCycleYearly, c)

	_, err = ParseBillingCycle("weekly")
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestPlan_PriceFor(t *testing.T) {
	monthly := &Plan{Price: decimal.RequireFromString("10"), BillingCycle: BillingCycleMonthly}
	yearly := &Plan{Price: decimal.RequireFromString("100"), BillingCycle: BillingCycleYearly}

	assert.Equal(t, "10", monthly.PriceFor(BillingCycleMonthly).String())
	assert.Equal(t, "120", monthly.PriceFor(BillingCycleYearly).String())
	assert.Equal(t, "8.33", yearly.PriceFor(BillingCycleMonthly).String())
	assert.Equal(t, "100", yearly.PriceFor("").String())
}

func TestPlan_Allows(t *testing.T) {
	plan := &Plan{Limits: map[string]int64{"seats": 5, "apiCalls": Unlimited}}

	assert.True(t, plan.Allows("seats", 5))
	assert.False(t, plan.Allows("seats", 6))
	assert.True(t, plan.Allows("apiCalls", 1<<40))
	assert.False(t, plan.Allows("projects", 0))
}
