// Package accounts stores user billing addresses, the precondition for
// starting a subscription.
package accounts

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// BillingAddress is a user's invoicing address
type BillingAddress struct {
	UserID     int64     `json:"user_id"`
	FullName   string    `json:"full_name"`
	Line1      string    `json:"line1"`
	Line2      string    `json:"line2,omitempty"`
	City       string    `json:"city"`
	PostalCode string    `json:"postal_code"`
	Country    string    `json:"country"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the required address fields
func (a *BillingAddress) Validate() error {
	var missing []string
	for field, v := range map[string]string{
		"full_name":   a.FullName,
		"line1":       a.Line1,
		"city":        a.City,
		"postal_code": a.PostalCode,
		"country":     a.Country,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "billing address is missing: %s", strings.Join(missing, ", "))
	}
	if len(a.Country) != 2 {
		return apperrors.InvalidArgument(apperrors.CodeInvalidInput, "country must be an ISO 3166-1 alpha-2 code")
	}
	return nil
}

// Service manages billing addresses
type Service interface {
	HasBillingAddress(ctx context.Context, userID int64) (bool, error)
	GetBillingAddress(ctx context.Context, userID int64) (*BillingAddress, error)
	UpsertBillingAddress(ctx context.Context, addr *BillingAddress) error
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// HasBillingAddress reports whether the user has an address on file
func (s *PostgresService) HasBillingAddress(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_addresses WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, apperrors.Persistence("check billing address", err)
	}
	return exists, nil
}

// GetBillingAddress retrieves the user's address
func (s *PostgresService) GetBillingAddress(ctx context.Context, userID int64) (*BillingAddress, error) {
	query := `
		SELECT user_id, full_name, line1, line2, city, postal_code, country, updated_at
		FROM billing_addresses
		WHERE user_id = $1
	`
	addr := &BillingAddress{}
	var line2 sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&addr.UserID, &addr.FullName, &addr.Line1, &line2,
		&addr.City, &addr.PostalCode, &addr.Country, &addr.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeBillingAddressRequired, "user %d has no billing address", userID)
	}
	if err != nil {
		return nil, apperrors.Persistence("get billing address", err)
	}
	addr.Line2 = line2.String
	return addr, nil
}

// UpsertBillingAddress creates or replaces the user's address
func (s *PostgresService) UpsertBillingAddress(ctx context.Context, addr *BillingAddress) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	addr.Country = strings.ToUpper(addr.Country)

	query := `
		INSERT INTO billing_addresses (user_id, full_name, line1, line2, city, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name, line1 = EXCLUDED.line1, line2 = EXCLUDED.line2,
		    city = EXCLUDED.city, postal_code = EXCLUDED.postal_code, country = EXCLUDED.country,
		    updated_at = NOW()
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		addr.UserID, addr.FullName, addr.Line1, addr.Line2,
		addr.City, addr.PostalCode, addr.Country,
	).Scan(&addr.UpdatedAt)
	if err != nil {
		return apperrors.Persistence("save billing address", err)
	}
	return nil
}
