package orgs

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// Service looks up organizations and memberships
type Service interface {
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	GetMember(ctx context.Context, orgID, userID int64) (*Member, error)
	ListMemberships(ctx context.Context, userID int64) ([]*Member, error)
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `SELECT id, name, owner_id, created_at, updated_at FROM organizations WHERE id = $1`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeOrganizationNotFound, "organization %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Persistence("get organization", err)
	}
	return org, nil
}

// GetMember retrieves a user's membership in an organization.
// A missing membership is reported as NotMember.
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID int64) (*Member, error) {
	query := `
		SELECT id, organization_id, user_id, role, status, joined_at, created_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`
	member := &Member{}
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &member.Role,
		&member.Status, &member.JoinedAt, &member.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.Forbidden(apperrors.CodeNotMember, "user %d is not a member of organization %d", userID, orgID)
	}
	if err != nil {
		return nil, apperrors.Persistence("get member", err)
	}
	return member, nil
}

// ListMemberships lists every organization membership of a user
func (s *PostgresService) ListMemberships(ctx context.Context, userID int64) ([]*Member, error) {
	query := `
		SELECT id, organization_id, user_id, role, status, joined_at, created_at
		FROM organization_members
		WHERE user_id = $1
		ORDER BY organization_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Persistence("list memberships", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		if err := rows.Scan(
			&member.ID, &member.OrganizationID, &member.UserID, &member.Role,
			&member.Status, &member.JoinedAt, &member.CreatedAt,
		); err != nil {
			return nil, apperrors.Persistence("scan member", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list memberships", err)
	}
	return members, nil
}
