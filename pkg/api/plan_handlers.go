package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// PlanHandlers serves the plan catalog
type PlanHandlers struct {
	plans PlanCatalog
	admin func(http.Handler) http.Handler
}

// NewPlanHandlers creates a new PlanHandlers
func NewPlanHandlers(catalog PlanCatalog, admin func(http.Handler) http.Handler) *PlanHandlers {
	return &PlanHandlers{plans: catalog, admin: admin}
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/plans/compare", h.ComparePlans).Methods("GET")
	router.HandleFunc("/plans/{id}", h.GetPlan).Methods("GET")

	router.Handle("/plans", h.admin(http.HandlerFunc(h.CreatePlan))).Methods("POST")
	router.Handle("/plans/{id}", h.admin(http.HandlerFunc(h.UpdatePlan))).Methods("PUT")
	router.Handle("/plans/{id}", h.admin(http.HandlerFunc(h.PurgePlan))).Methods("DELETE")
	router.Handle("/plans/{id}/default", h.admin(http.HandlerFunc(h.SetDefaultPlan))).Methods("POST")
	router.Handle("/plans/{id}/deactivate", h.admin(http.HandlerFunc(h.DeactivatePlan))).Methods("POST")
}

// ListPlans handles GET /plans. Only active plans are listed unless ?all=true.
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	all, err := httputil.ParseQueryBool(r, "all", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	list, err := h.plans.ListPlans(r.Context(), !all)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*plans.Plan{}
	}
	httputil.WriteSuccess(w, list)
}

// ComparePlans handles GET /plans/compare?ids=1,2,3
func (h *PlanHandlers) ComparePlans(w http.ResponseWriter, r *http.Request) {
	ids, err := httputil.ParseQueryInt64List(r, "ids")
	if err != nil {
		httputil.WriteBadRequest(w, "ids must be a comma separated list of plan ids")
		return
	}
	for _, id := range ids {
		if id <= 0 {
			httputil.WriteBadRequest(w, "ids must be a comma separated list of plan ids")
			return
		}
	}

	matrix, err := h.plans.ComparePlans(r.Context(), ids)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// GetPlan handles GET /plans/{id}
func (h *PlanHandlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	plan, err := h.plans.GetPlan(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// CreatePlan handles POST /plans
func (h *PlanHandlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req plans.CreatePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan, err := h.plans.CreatePlan(r.Context(), &req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, plan)
}

// UpdatePlan handles PUT /plans/{id}
func (h *PlanHandlers) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req plans.UpdatePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.plans.UpdatePlan(r.Context(), id, &req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// SetDefaultPlan handles POST /plans/{id}/default
func (h *PlanHandlers) SetDefaultPlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.plans.SetDefaultPlan)
}

// DeactivatePlan handles POST /plans/{id}/deactivate
func (h *PlanHandlers) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.plans.DeactivatePlan)
}

// PurgePlan handles DELETE /plans/{id}
func (h *PlanHandlers) PurgePlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.plans.PurgePlan)
}

func (h *PlanHandlers) planAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id int64) error) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := action(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
