package plans

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// mockStore is a mock implementation of Store
type mockStore struct {
	getPlanFunc                  func(ctx context.Context, id int64) (*Plan, error)
	getPlansFunc                 func(ctx context.Context, ids []int64) ([]*Plan, error)
	listPlansFunc                func(ctx context.Context, activeOnly bool) ([]*Plan, error)
	findPlanByNameAndCycleFunc   func(ctx context.Context, name string, cycle BillingCycle) (*Plan, error)
	getDefaultPlanFunc           func(ctx context.Context) (*Plan, error)
	createPlanFunc               func(ctx context.Context, plan *Plan) error
	updatePlanFunc               func(ctx context.Context, plan *Plan) error
	setDefaultPlanFunc           func(ctx context.Context, id int64) error
	setPlanStatusFunc            func(ctx context.Context, id int64, status PlanStatus) error
	deletePlanFunc               func(ctx context.Context, id int64) error
	countActiveSubscriptionsFunc func(ctx context.Context, planID int64) (int, error)
	countReferencesFunc          func(ctx context.Context, planID int64) (int, int, error)
}

func (m *mockStore) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	if m.getPlanFunc != nil {
		return m.getPlanFunc(ctx, id)
	}
	return nil, apperrors.NotFound(apperrors.CodePlanNotFound, "plan %d not found", id)
}

func (m *mockStore) GetPlans(ctx context.Context, ids []int64) ([]*Plan, error) {
	if m.getPlansFunc != nil {
		return m.getPlansFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockStore) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	if m.listPlansFunc != nil {
		return m.listPlansFunc(ctx, activeOnly)
	}
	return nil, nil
}

func (m *mockStore) FindPlanByNameAndCycle(ctx context.Context, name string, cycle BillingCycle) (*Plan, error) {
	if m.findPlanByNameAndCycleFunc != nil {
		return m.findPlanByNameAndCycleFunc(ctx, name, cycle)
	}
	return nil, nil
}

func (m *mockStore) GetDefaultPlan(ctx context.Context) (*Plan, error) {
	if m.getDefaultPlanFunc != nil {
		return m.getDefaultPlanFunc(ctx)
	}
	return nil, nil
}

func (m *mockStore) CreatePlan(ctx context.Context, plan *Plan) error {
	if m.createPlanFunc != nil {
		return m.createPlanFunc(ctx, plan)
	}
	plan.ID = 1
	return nil
}

func (m *mockStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	if m.updatePlanFunc != nil {
		return m.updatePlanFunc(ctx, plan)
	}
	return nil
}

func (m *mockStore) SetDefaultPlan(ctx context.Context, id int64) error {
	if m.setDefaultPlanFunc != nil {
		return m.setDefaultPlanFunc(ctx, id)
	}
	return nil
}

func (m *mockStore) SetPlanStatus(ctx context.Context, id int64, status PlanStatus) error {
	if m.setPlanStatusFunc != nil {
		return m.setPlanStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockStore) DeletePlan(ctx context.Context, id int64) error {
	if m.deletePlanFunc != nil {
		return m.deletePlanFunc(ctx, id)
	}
	return nil
}

func (m *mockStore) CountActiveSubscriptions(ctx context.Context, planID int64) (int, error) {
	if m.countActiveSubscriptionsFunc != nil {
		return m.countActiveSubscriptionsFunc(ctx, planID)
	}
	return 0, nil
}

func (m *mockStore) CountReferences(ctx context.Context, planID int64) (int, int, error) {
	if m.countReferencesFunc != nil {
		return m.countReferencesFunc(ctx, planID)
	}
	return 0, 0, nil
}

func testPlan(id int64, name string, price string) *Plan {
	return &Plan{
		ID:           id,
		Name:         name,
		Price:        decimal.RequireFromString(price),
		BillingCycle: BillingCycleMonthly,
		Features:     map[string]interface{}{},
		Limits:       map[string]int64{},
		Status:       PlanStatusActive,
	}
}

func TestEngine_ResolvePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("success - active plan", func(t *testing.T) {
		store := &mockStore{getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) {
			return testPlan(id, "Pro", "20.00"), nil
		}}
		plan, err := NewEngine(store, nil, nil).ResolvePlan(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), plan.ID)
	})

	t.Run("error - plan not found", func(t *testing.T) {
		_, err := NewEngine(&mockStore{}, nil, nil).ResolvePlan(ctx, 99)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanNotFound))
		assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	})

	t.Run("error - plan inactive", func(t *testing.T) {
		store := &mockStore{getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) {
			p := testPlan(id, "Legacy", "5.00")
			p.Status = PlanStatusInactive
			return p, nil
		}}
		_, err := NewEngine(store, nil, nil).ResolvePlan(ctx, 4)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanInactive))
	})

	t.Run("error - store failure surfaces as persistence error", func(t *testing.T) {
		store := &mockStore{getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) {
			return nil, apperrors.Persistence("get plan", errors.New("connection reset"))
		}}
		_, err := NewEngine(store, nil, nil).ResolvePlan(ctx, 4)
		assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
	})
}

func TestBuildComparison(t *testing.T) {
	basic := testPlan(1, "Basic", "10.00")
	basic.Features = map[string]interface{}{"sso": false, "support": "email"}
	basic.Limits = map[string]int64{"projects": 3}

	pro := testPlan(2, "Pro", "50.00")
	pro.Features = map[string]interface{}{"sso": true, "auditLog": true}
	pro.Limits = map[string]int64{"projects": 50, "apiCalls": Unlimited}

	matrix := BuildComparison([]*Plan{basic, pro})

	assert.Equal(t, []string{"auditLog", "sso", "support"}, matrix.FeatureKeys)
	assert.Equal(t, []string{"apiCalls", "projects"}, matrix.LimitKeys)
	require.Len(t, matrix.Rows, 2)

	basicRow := matrix.Rows[0]
	assert.Equal(t, "Basic", basicRow.Plan.Name)
	assert.Equal(t, false, basicRow.Features["auditLog"])
	assert.Equal(t, "email", basicRow.Features["support"])
	assert.Equal(t, false, basicRow.Limits["apiCalls"])
	assert.Equal(t, int64(3), basicRow.Limits["projects"])

	proRow := matrix.Rows[1]
	assert.Equal(t, true, proRow.Features["sso"])
	assert.Equal(t, false, proRow.Features["support"])
	assert.Equal(t, UnlimitedLabel, proRow.Limits["apiCalls"])
	assert.Equal(t, int64(50), proRow.Limits["projects"])
}

func TestEngine_ComparePlans(t *testing.T) {
	ctx := context.Background()

	t.Run("no ids compares all active plans", func(t *testing.T) {
		var gotActiveOnly bool
		store := &mockStore{listPlansFunc: func(ctx context.Context, activeOnly bool) ([]*Plan, error) {
			gotActiveOnly = activeOnly
			return []*Plan{testPlan(1, "Basic", "10"), testPlan(2, "Pro", "50")}, nil
		}}
		matrix, err := NewEngine(store, nil, nil).ComparePlans(ctx, nil)
		require.NoError(t, err)
		assert.True(t, gotActiveOnly)
		assert.Len(t, matrix.Rows, 2)
	})

	t.Run("explicit ids are deduplicated", func(t *testing.T) {
		var gotIDs []int64
		store := &mockStore{getPlansFunc: func(ctx context.Context, ids []int64) ([]*Plan, error) {
			gotIDs = ids
			return []*Plan{testPlan(1, "Basic", "10"), testPlan(2, "Pro", "50")}, nil
		}}
		_, err := NewEngine(store, nil, nil).ComparePlans(ctx, []int64{2, 1, 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 1}, gotIDs)
	})

	t.Run("error - unknown id", func(t *testing.T) {
		store := &mockStore{getPlansFunc: func(ctx context.Context, ids []int64) ([]*Plan, error) {
			return []*Plan{testPlan(1, "Basic", "10")}, nil
		}}
		_, err := NewEngine(store, nil, nil).ComparePlans(ctx, []int64{1, 7})
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanNotFound))
		assert.Contains(t, err.Error(), "7")
	})
}

func TestEngine_CreatePlan(t *testing.T) {
	ctx := context.Background()
	validReq := func() *CreatePlanRequest {
		return &CreatePlanRequest{
			Name:         "Pro",
			Price:        decimal.RequireFromString("19.999"),
			BillingCycle: BillingCycleMonthly,
			Limits:       map[string]int64{"projects": 10},
		}
	}

	t.Run("success", func(t *testing.T) {
		var created *Plan
		store := &mockStore{createPlanFunc: func(ctx context.Context, plan *Plan) error {
			created = plan
			plan.ID = 11
			return nil
		}}
		plan, err := NewEngine(store, nil, nil).CreatePlan(ctx, validReq())
		require.NoError(t, err)
		assert.Equal(t, int64(11), plan.ID)
		assert.Equal(t, PlanStatusActive, created.Status)
		assert.Equal(t, "20", created.Price.String())
	})

	t.Run("error - duplicate name and cycle", func(t *testing.T) {
		store := &mockStore{findPlanByNameAndCycleFunc: func(ctx context.Context, name string, cycle BillingCycle) (*Plan, error) {
			return testPlan(5, name, "10"), nil
		}}
		_, err := NewEngine(store, nil, nil).CreatePlan(ctx, validReq())
		assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicatePlan))
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})

	t.Run("error - duplicate name with surrounding spaces", func(t *testing.T) {
		var looked string
		store := &mockStore{findPlanByNameAndCycleFunc: func(ctx context.Context, name string, cycle BillingCycle) (*Plan, error) {
			looked = name
			if name == "Pro" {
				return testPlan(5, name, "10"), nil
			}
			return nil, nil
		}}
		req := validReq()
		req.Name = " Pro "
		_, err := NewEngine(store, nil, nil).CreatePlan(ctx, req)
		assert.Equal(t, "Pro", looked)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicatePlan))
	})

	t.Run("error - negative price", func(t *testing.T) {
		req := validReq()
		req.Price = decimal.NewFromInt(-1)
		_, err := NewEngine(&mockStore{}, nil, nil).CreatePlan(ctx, req)
		assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
	})

	t.Run("error - invalid limit", func(t *testing.T) {
		req := validReq()
		req.Limits = map[string]int64{"projects": -5}
		_, err := NewEngine(&mockStore{}, nil, nil).CreatePlan(ctx, req)
		assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
	})

	t.Run("error - missing name", func(t *testing.T) {
		req := validReq()
		req.Name = "  "
		_, err := NewEngine(&mockStore{}, nil, nil).CreatePlan(ctx, req)
		assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
	})
}

func TestEngine_UpdatePlan(t *testing.T) {
	ctx := context.Background()
	current := func() *Plan {
		p := testPlan(3, "Pro", "20.00")
		p.Limits = map[string]int64{"projects": 10}
		return p
	}

	t.Run("success - unused plan has no warnings", func(t *testing.T) {
		store := &mockStore{getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) { return current(), nil }}
		price := decimal.RequireFromString("25")
		result, err := NewEngine(store, nil, nil).UpdatePlan(ctx, 3, &UpdatePlanRequest{Price: &price})
		require.NoError(t, err)
		assert.Empty(t, result.Warnings)
		assert.True(t, result.Plan.Price.Equal(price))
	})

	t.Run("success - in-use plan price and limits change warns", func(t *testing.T) {
		var saved *Plan
		store := &mockStore{
			getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) { return current(), nil },
			countReferencesFunc: func(ctx context.Context, planID int64) (int, int, error) {
				return 4, 9, nil
			},
			updatePlanFunc: func(ctx context.Context, plan *Plan) error {
				saved = plan
				return nil
			},
		}
		price := decimal.RequireFromString("30")
		result, err := NewEngine(store, nil, nil).UpdatePlan(ctx, 3, &UpdatePlanRequest{
			Price:  &price,
			Limits: map[string]int64{"projects": 20},
		})
		require.NoError(t, err)
		require.Len(t, result.Warnings, 2)
		assert.Contains(t, result.Warnings[0], "20.00 to 30.00")
		assert.Equal(t, int64(20), saved.Limits["projects"])
	})

	t.Run("success - description change on in-use plan does not count references", func(t *testing.T) {
		store := &mockStore{
			getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) { return current(), nil },
			countReferencesFunc: func(ctx context.Context, planID int64) (int, int, error) {
				t.Fatal("references should not be counted")
				return 0, 0, nil
			},
		}
		desc := "for growing teams"
		result, err := NewEngine(store, nil, nil).UpdatePlan(ctx, 3, &UpdatePlanRequest{Description: &desc})
		require.NoError(t, err)
		assert.Empty(t, result.Warnings)
	})

	t.Run("error - rename collides with another active plan", func(t *testing.T) {
		store := &mockStore{
			getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) { return current(), nil },
			findPlanByNameAndCycleFunc: func(ctx context.Context, name string, cycle BillingCycle) (*Plan, error) {
				return testPlan(8, name, "99"), nil
			},
		}
		name := "Enterprise"
		_, err := NewEngine(store, nil, nil).UpdatePlan(ctx, 3, &UpdatePlanRequest{Name: &name})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicatePlan))
	})

	t.Run("deactivating through update drops the default flag", func(t *testing.T) {
		var saved *Plan
		store := &mockStore{
			getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) {
				p := current()
				p.IsDefault = true
				return p, nil
			},
			updatePlanFunc: func(ctx context.Context, plan *Plan) error {
				saved = plan
				return nil
			},
		}
		status := PlanStatusInactive
		_, err := NewEngine(store, nil, nil).UpdatePlan(ctx, 3, &UpdatePlanRequest{Status: &status})
		require.NoError(t, err)
		assert.False(t, saved.IsDefault)
	})
}

func TestEngine_PurgePlan(t *testing.T) {
	ctx := context.Background()
	exists := func(ctx context.Context, id int64) (*Plan, error) { return testPlan(id, "Old", "1"), nil }

	t.Run("success - unreferenced plan is deleted", func(t *testing.T) {
		deleted := false
		store := &mockStore{
			getPlanFunc:    exists,
			deletePlanFunc: func(ctx context.Context, id int64) error { deleted = true; return nil },
		}
		require.NoError(t, NewEngine(store, nil, nil).PurgePlan(ctx, 2))
		assert.True(t, deleted)
	})

	t.Run("error - referenced by billing history", func(t *testing.T) {
		store := &mockStore{
			getPlanFunc: exists,
			countReferencesFunc: func(ctx context.Context, planID int64) (int, int, error) {
				return 0, 1, nil
			},
			deletePlanFunc: func(ctx context.Context, id int64) error {
				t.Fatal("referenced plan must not be deleted")
				return nil
			},
		}
		err := NewEngine(store, nil, nil).PurgePlan(ctx, 2)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanInUse))
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})

	t.Run("error - not found", func(t *testing.T) {
		err := NewEngine(&mockStore{}, nil, nil).PurgePlan(ctx, 2)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanNotFound))
	})
}

func TestEngine_DeactivateAndDefault(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivate sets inactive status", func(t *testing.T) {
		var gotStatus PlanStatus
		store := &mockStore{setPlanStatusFunc: func(ctx context.Context, id int64, status PlanStatus) error {
			gotStatus = status
			return nil
		}}
		require.NoError(t, NewEngine(store, nil, nil).DeactivatePlan(ctx, 5))
		assert.Equal(t, PlanStatusInactive, gotStatus)
	})

	t.Run("default requires an active plan", func(t *testing.T) {
		store := &mockStore{getPlanFunc: func(ctx context.Context, id int64) (*Plan, error) {
			p := testPlan(id, "Legacy", "1")
			p.Status = PlanStatusInactive
			return p, nil
		}}
		err := NewEngine(store, nil, nil).SetDefaultPlan(ctx, 5)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePlanInactive))
	})

	t.Run("default on active plan", func(t *testing.T) {
		var setID int64
		store := &mockStore{
			getPlanFunc:        func(ctx context.Context, id int64) (*Plan, error) { return testPlan(id, "Free", "0"), nil },
			setDefaultPlanFunc: func(ctx context.Context, id int64) error { setID = id; return nil },
		}
		require.NoError(t, NewEngine(store, nil, nil).SetDefaultPlan(ctx, 5))
		assert.Equal(t, int64(5), setID)
	})
}
