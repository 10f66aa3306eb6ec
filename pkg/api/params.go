package api

import (
	"net/http"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// callerOrError returns the authenticated user ID or writes a 401
func callerOrError(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.CallerID(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return id, true
}

// partyOrError reads ?organization_id=; without it the caller is the billed party
func partyOrError(w http.ResponseWriter, r *http.Request, callerID int64) (orgs.BilledParty, bool) {
	orgID, err := httputil.ParseQueryInt64(r, "organization_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return orgs.BilledParty{}, false
	}
	if orgID != 0 {
		return orgs.OrganizationParty(orgID), true
	}
	return orgs.UserParty(callerID), true
}
