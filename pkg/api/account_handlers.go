package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// AccountHandlers serves the caller's billing address
type AccountHandlers struct {
	addresses accounts.Service
}

// NewAccountHandlers creates a new AccountHandlers
func NewAccountHandlers(addresses accounts.Service) *AccountHandlers {
	return &AccountHandlers{addresses: addresses}
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/address", h.GetBillingAddress).Methods("GET")
	router.HandleFunc("/billing/address", h.PutBillingAddress).Methods("PUT")
}

// GetBillingAddress handles GET /billing/address
func (h *AccountHandlers) GetBillingAddress(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}

	addr, err := h.addresses.GetBillingAddress(r.Context(), callerID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, addr)
}

// PutBillingAddress handles PUT /billing/address. The address always belongs to the caller.
func (h *AccountHandlers) PutBillingAddress(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerOrError(w, r)
	if !ok {
		return
	}
	var addr accounts.BillingAddress
	if !httputil.ParseJSONOrError(w, r, &addr) {
		return
	}
	addr.UserID = callerID

	if err := h.addresses.UpsertBillingAddress(r.Context(), &addr); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, &addr)
}
