package orgs

import (
	"context"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// Authorizer is the single capability check shared by every lifecycle operation
type Authorizer struct {
	service Service
}

// NewAuthorizer creates a new Authorizer
func NewAuthorizer(service Service) *Authorizer {
	return &Authorizer{service: service}
}

// Authorize checks that caller may act on party with at least the required role.
//
// A user party may only be acted on by that user. For an organization the
// caller must be an ACTIVE member whose role satisfies required.
func (a *Authorizer) Authorize(ctx context.Context, callerID int64, party BilledParty, required Role) error {
	if err := party.Validate(); err != nil {
		return err
	}

	if party.UserID != nil {
		if *party.UserID != callerID {
			return apperrors.Forbidden(apperrors.CodeNotPartyOwner, "user %d cannot act on subscriptions of user %d", callerID, *party.UserID)
		}
		return nil
	}

	orgID := *party.OrganizationID
	if _, err := a.service.GetOrganization(ctx, orgID); err != nil {
		return err
	}

	member, err := a.service.GetMember(ctx, orgID, callerID)
	if err != nil {
		return err
	}
	if member.Status != MemberStatusActive {
		return apperrors.Forbidden(apperrors.CodeNotMember, "membership of user %d in organization %d is %s", callerID, orgID, member.Status)
	}
	if !member.Role.Satisfies(required) {
		return apperrors.Forbidden(apperrors.CodeInsufficientRole, "organization %d requires role %s, user %d has %s", orgID, required, callerID, member.Role)
	}
	return nil
}
