package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// SubscriptionHandlers serves the subscription lifecycle, billing history and entitlements
type SubscriptionHandlers struct {
	subscriptions Subscriptions
	admin         func(http.Handler) http.Handler
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(subscriptions Subscriptions, admin func(http.Handler) http.Handler) *SubscriptionHandlers {
	return &SubscriptionHandlers{subscriptions: subscriptions, admin: admin}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions", h.CreateSubscription).Methods("POST")
	router.HandleFunc("/subscriptions/current", h.CurrentSubscription).Methods("GET")
	router.HandleFunc("/subscriptions/current/cancel", h.CancelCurrent).Methods("POST")
	router.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/transactions", h.ListTransactions).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/upgrade", h.Upgrade).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/downgrade", h.Downgrade).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/change-plan", h.ChangePlan).Methods("POST")
	router.Handle("/subscriptions/{id}/activate", h.admin(http.HandlerFunc(h.Activate))).Methods("POST")

	router.HandleFunc("/billing/history", h.ListBillingHistory).Methods("GET")
	router.HandleFunc("/entitlements", h.Entitlements).Methods("GET")
	router.HandleFunc("/entitlements/limits/{key}", h.CheckLimit).Methods("GET")
}

type createSubscriptionBody struct {
	OrganizationID *int64              `json:"organization_id,omitempty"`
	PlanID         int64               `json:"plan_id"`
	BillingCycle   *plans.BillingCycle `json:"billing_cycle,omitempty"`
	AutoRenew      bool                `json:"auto_renew"`
	PaymentMethod  string              `json:"payment_method,omitempty"`
}

type cancelBody struct {
	Immediate bool `json:"immediate"`
}

// CreateSubscription handles POST /subscriptions
func (h *SubscriptionHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	var body createSubscriptionBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	party := orgs.UserParty(callerID)
	if body.OrganizationID != nil {
		party = orgs.OrganizationParty(*body.OrganizationID)
	}

	result, err := h.subscriptions.Create(r.Context(), callerID, &billing.CreateSubscriptionRequest{
		Party:         party,
		PlanID:        body.PlanID,
		BillingCycle:  body.BillingCycle,
		AutoRenew:     body.AutoRenew,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// CurrentSubscription handles GET /subscriptions/current
func (h *SubscriptionHandlers) CurrentSubscription(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	party, ok := partyOrError(w, r, callerID)
	if !ok {
		return
	}

	sub, err := h.subscriptions.CurrentSubscription(r.Context(), callerID, party)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// CancelCurrent handles POST /subscriptions/current/cancel
func (h *SubscriptionHandlers) CancelCurrent(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	party, ok := partyOrError(w, r, callerID)
	if !ok {
		return
	}
	var body cancelBody
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	sub, err := h.subscriptions.CancelCurrent(r.Context(), callerID, party, body.Immediate)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), callerID, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ListTransactions handles GET /subscriptions/{id}/transactions
func (h *SubscriptionHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	txns, err := h.subscriptions.ListTransactions(r.Context(), callerID, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if txns == nil {
		txns = []*billing.PaymentTransaction{}
	}
	httputil.WriteSuccess(w, txns)
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *SubscriptionHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var body cancelBody
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), callerID, id, body.Immediate)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// Upgrade handles POST /subscriptions/{id}/upgrade
func (h *SubscriptionHandlers) Upgrade(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, h.subscriptions.Upgrade)
}

// Downgrade handles POST /subscriptions/{id}/downgrade
func (h *SubscriptionHandlers) Downgrade(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, h.subscriptions.Downgrade)
}

// ChangePlan handles POST /subscriptions/{id}/change-plan
func (h *SubscriptionHandlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, h.subscriptions.ChangePlan)
}

type changeFunc func(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error)

func (h *SubscriptionHandlers) changePlan(w http.ResponseWriter, r *http.Request, change changeFunc) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req billing.ChangePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := change(r.Context(), callerID, id, &req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Activate handles POST /subscriptions/{id}/activate, the manual payment confirmation
func (h *SubscriptionHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req billing.ActivateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.Activate(r.Context(), id, &req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ListBillingHistory handles GET /billing/history
func (h *SubscriptionHandlers) ListBillingHistory(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	party, ok := partyOrError(w, r, callerID)
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", billing.DefaultHistoryLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	history, err := h.subscriptions.ListBillingHistory(r.Context(), callerID, party, limit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if history == nil {
		history = []*billing.BillingHistory{}
	}
	httputil.WriteSuccess(w, history)
}

// Entitlements handles GET /entitlements
func (h *SubscriptionHandlers) Entitlements(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	party, ok := partyOrError(w, r, callerID)
	if !ok {
		return
	}

	ent, err := h.subscriptions.Entitlements(r.Context(), callerID, party)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ent)
}

// CheckLimit handles GET /entitlements/limits/{key}?used=N
func (h *SubscriptionHandlers) CheckLimit(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	party, ok := partyOrError(w, r, callerID)
	if !ok {
		return
	}
	used, err := httputil.ParseQueryInt64(r, "used", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	check, err := h.subscriptions.CheckLimit(r.Context(), callerID, party, mux.Vars(r)["key"], used)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, check)
}
