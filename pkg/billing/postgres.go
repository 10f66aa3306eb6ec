package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

// Partial unique indexes over open subscriptions, one per party column
const (
	openUserIndex = "subscriptions_open_user_idx"
	openOrgIndex  = "subscriptions_open_org_idx"
)

const subscriptionColumns = `id, user_id, organization_id, plan_id, status, billing_cycle,
	start_date, end_date, auto_renew, last_payment_date, next_payment_date,
	cancelled_at, previous_subscription_id, created_at, updated_at`

const historyColumns = `id, subscription_id, user_id, organization_id, plan_id, invoice_number,
	amount, status, reason, paid_at, payment_method, created_at`

const transactionColumns = `id, subscription_id, payment_gateway, transaction_id, amount,
	status, webhook_data, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db   *sql.DB
	q    postgres.Querier
	inTx bool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// InTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx, inTx: true})
	})
	if err != nil {
		return apperrors.Persistence("run transaction", err)
	}
	return nil
}

func (s *PostgresStore) lockClause() string {
	if s.inTx {
		return " FOR UPDATE"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.OrganizationID, &sub.PlanID, &sub.Status, &sub.BillingCycle,
		&sub.StartDate, &sub.EndDate, &sub.AutoRenew, &sub.LastPaymentDate, &sub.NextPaymentDate,
		&sub.CancelledAt, &sub.PreviousSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func partyFilter(party orgs.BilledParty) (string, int64) {
	if party.IsOrganization() {
		return "organization_id", *party.OrganizationID
	}
	return "user_id", *party.UserID
}

func mapSubscriptionWriteError(op string, err error) error {
	if postgres.IsUniqueViolation(err, openUserIndex) || postgres.IsUniqueViolation(err, openOrgIndex) {
		return apperrors.Conflict(apperrors.CodeDuplicateSubscription, "billed party already has an open subscription")
	}
	return apperrors.Persistence(op, err)
}

// CreateSubscription inserts a subscription
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, organization_id, plan_id, status, billing_cycle,
			start_date, end_date, auto_renew, last_payment_date, next_payment_date,
			cancelled_at, previous_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := s.q.QueryRowContext(ctx, query,
		sub.UserID, sub.OrganizationID, sub.PlanID, sub.Status, sub.BillingCycle,
		sub.StartDate, sub.EndDate, sub.AutoRenew, sub.LastPaymentDate, sub.NextPaymentDate,
		sub.CancelledAt, sub.PreviousSubscriptionID,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return mapSubscriptionWriteError("create subscription", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID
func (s *PostgresStore) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1` + s.lockClause()
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeSubscriptionNotFound, "subscription %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Persistence("get subscription", err)
	}
	return sub, nil
}

// FindOpenSubscription returns the party's PENDING, ACTIVE or TRIAL subscription
func (s *PostgresStore) FindOpenSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error) {
	column, id := partyFilter(party)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE ` + column + ` = $1 AND status IN ('PENDING', 'ACTIVE', 'TRIAL')` + s.lockClause()
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("find open subscription", err)
	}
	return sub, nil
}

// FindLatestSubscription returns the party's most recently created subscription
func (s *PostgresStore) FindLatestSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error) {
	column, id := partyFilter(party)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE ` + column + ` = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("find latest subscription", err)
	}
	return sub, nil
}

// UpdateSubscription writes the mutable fields of a subscription
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, start_date = $2, end_date = $3, auto_renew = $4, last_payment_date = $5,
		    next_payment_date = $6, cancelled_at = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at
	`
	err := s.q.QueryRowContext(ctx, query,
		sub.Status, sub.StartDate, sub.EndDate, sub.AutoRenew, sub.LastPaymentDate,
		sub.NextPaymentDate, sub.CancelledAt, sub.ID,
	).Scan(&sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperrors.NotFound(apperrors.CodeSubscriptionNotFound, "subscription %d not found", sub.ID)
	}
	if err != nil {
		return mapSubscriptionWriteError("update subscription", err)
	}
	return nil
}

// ListExpirable lists open subscriptions due to expire at now
func (s *PostgresStore) ListExpirable(ctx context.Context, now, pendingBefore time.Time) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE (status IN ('ACTIVE', 'TRIAL') AND end_date <= $1 AND auto_renew = false)
		   OR (status = 'PENDING' AND created_at <= $2)
		ORDER BY id`
	return s.querySubscriptions(ctx, "list expirable subscriptions", query, now, pendingBefore)
}

// ListRenewable lists auto-renewing subscriptions whose period has ended
func (s *PostgresStore) ListRenewable(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status IN ('ACTIVE', 'TRIAL') AND auto_renew = true AND end_date <= $1
		ORDER BY id`
	return s.querySubscriptions(ctx, "list renewable subscriptions", query, now)
}

func (s *PostgresStore) querySubscriptions(ctx context.Context, op, query string, args ...interface{}) ([]*Subscription, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Persistence(op, err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.Persistence(op, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(op, err)
	}
	return subs, nil
}

// CreateBillingHistory appends a ledger row
func (s *PostgresStore) CreateBillingHistory(ctx context.Context, entry *BillingHistory) error {
	query := `
		INSERT INTO billing_history (subscription_id, user_id, organization_id, plan_id,
			invoice_number, amount, status, reason, paid_at, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.q.QueryRowContext(ctx, query,
		entry.SubscriptionID, entry.UserID, entry.OrganizationID, entry.PlanID,
		entry.InvoiceNumber, entry.Amount, entry.Status, entry.Reason, entry.PaidAt,
		nullString(entry.PaymentMethod),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return apperrors.Persistence("create billing history", err)
	}
	return nil
}

// ListBillingHistory lists the party's ledger, newest first
func (s *PostgresStore) ListBillingHistory(ctx context.Context, party orgs.BilledParty, limit int) ([]*BillingHistory, error) {
	column, id := partyFilter(party)
	query := `SELECT ` + historyColumns + ` FROM billing_history
		WHERE ` + column + ` = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := s.q.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, apperrors.Persistence("list billing history", err)
	}
	defer rows.Close()

	var entries []*BillingHistory
	for rows.Next() {
		entry := &BillingHistory{}
		var method sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.SubscriptionID, &entry.UserID, &entry.OrganizationID, &entry.PlanID,
			&entry.InvoiceNumber, &entry.Amount, &entry.Status, &entry.Reason, &entry.PaidAt,
			&method, &entry.CreatedAt,
		); err != nil {
			return nil, apperrors.Persistence("scan billing history", err)
		}
		entry.PaymentMethod = method.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list billing history", err)
	}
	return entries, nil
}

// CreateTransaction records a gateway transaction
func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (subscription_id, payment_gateway, transaction_id,
			amount, status, webhook_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.q.QueryRowContext(ctx, query,
		txn.SubscriptionID, txn.PaymentGateway, txn.TransactionID,
		txn.Amount, txn.Status, nullJSON(txn.WebhookData),
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return apperrors.Persistence("create payment transaction", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*PaymentTransaction, error) {
	txn := &PaymentTransaction{}
	var webhook []byte
	err := row.Scan(
		&txn.ID, &txn.SubscriptionID, &txn.PaymentGateway, &txn.TransactionID, &txn.Amount,
		&txn.Status, &webhook, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(webhook) > 0 {
		txn.WebhookData = append([]byte(nil), webhook...)
	}
	return txn, nil
}

// GetTransaction retrieves a transaction by its gateway identifier
func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (*PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE transaction_id = $1` + s.lockClause()
	txn, err := scanTransaction(s.q.QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction %s not found", transactionID)
	}
	if err != nil {
		return nil, apperrors.Persistence("get payment transaction", err)
	}
	return txn, nil
}

// UpdateTransaction writes the status and webhook payload of a transaction
func (s *PostgresStore) UpdateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	query := `
		UPDATE payment_transactions
		SET status = $1, webhook_data = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`
	err := s.q.QueryRowContext(ctx, query, txn.Status, nullJSON(txn.WebhookData), txn.ID).Scan(&txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction %s not found", txn.TransactionID)
	}
	if err != nil {
		return apperrors.Persistence("update payment transaction", err)
	}
	return nil
}

// ListTransactions lists a subscription's transactions, oldest first
func (s *PostgresStore) ListTransactions(ctx context.Context, subscriptionID int64) ([]*PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE subscription_id = $1 ORDER BY created_at, id`
	rows, err := s.q.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, apperrors.Persistence("list payment transactions", err)
	}
	defer rows.Close()

	var txns []*PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apperrors.Persistence("scan payment transaction", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list payment transactions", err)
	}
	return txns, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
