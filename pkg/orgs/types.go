package orgs

import (
	"fmt"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// Role is a member's role within an organization
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// rank orders roles so a higher role satisfies a lower requirement
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether r grants at least the required role
func (r Role) Satisfies(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

// MemberStatus is the state of a membership
type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusInvited   MemberStatus = "INVITED"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
)

// Organization is a billed party that groups users
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a user's membership in an organization
type Member struct {
	ID             int64        `json:"id"`
	OrganizationID int64        `json:"organization_id"`
	UserID         int64        `json:"user_id"`
	Role           Role         `json:"role"`
	Status         MemberStatus `json:"status"`
	JoinedAt       *time.Time   `json:"joined_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// BilledParty is the single user or organization a subscription is charged to.
// Exactly one of the two IDs is set.
type BilledParty struct {
	UserID         *int64 `json:"user_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
}

// UserParty bills a single user
func UserParty(userID int64) BilledParty {
	return BilledParty{UserID: &userID}
}

// OrganizationParty bills an organization
func OrganizationParty(orgID int64) BilledParty {
	return BilledParty{OrganizationID: &orgID}
}

// Validate enforces that exactly one billed party is set
func (p BilledParty) Validate() error {
	switch {
	case p.UserID != nil && p.OrganizationID != nil:
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "a subscription belongs to a user or an organization, not both")
	case p.UserID == nil && p.OrganizationID == nil:
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "a user or an organization is required")
	case p.UserID != nil && *p.UserID <= 0:
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid user id %d", *p.UserID)
	case p.OrganizationID != nil && *p.OrganizationID <= 0:
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "invalid organization id %d", *p.OrganizationID)
	}
	return nil
}

// IsOrganization reports whether the party is an organization
func (p BilledParty) IsOrganization() bool {
	return p.OrganizationID != nil
}

// Equal compares two parties by kind and ID
func (p BilledParty) Equal(other BilledParty) bool {
	return int64PtrEqual(p.UserID, other.UserID) && int64PtrEqual(p.OrganizationID, other.OrganizationID)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (p BilledParty) String() string {
	switch {
	case p.OrganizationID != nil:
		return fmt.Sprintf("organization:%d", *p.OrganizationID)
	case p.UserID != nil:
		return fmt.Sprintf("user:%d", *p.UserID)
	default:
		return "none"
	}
}
