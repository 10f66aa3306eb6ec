// Package orgs provides organization and membership lookups and the
// authorization check used by subscription operations.
//
// # Overview
//
// Subscriptions are billed to exactly one party: a user or an organization.
// Organization members hold a role (OWNER, ADMIN, MEMBER) and a status
// (ACTIVE, INVITED, SUSPENDED). Only ACTIVE members count.
//
// # Usage Example
//
//	authz := orgs.NewAuthorizer(orgs.NewPostgresService(db))
//	party := orgs.OrganizationParty(orgID)
//	if err := authz.Authorize(ctx, callerID, party, orgs.RoleOwner); err != nil {
//		// Forbidden: not a member, inactive membership or role too low
//	}
package orgs
