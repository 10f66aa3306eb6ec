package billing

import (
	"context"
	"time"

	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// Store is the persistence port of the lifecycle manager.
//
// Implementations must enforce at most one open subscription per billed
// party and report a violation as Conflict/DuplicateSubscription.
type Store interface {
	// InTx runs fn against a Store bound to a single transaction.
	// Reads inside fn lock the rows they return.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	// FindOpenSubscription returns nil when the party has no open subscription
	FindOpenSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error)
	// FindLatestSubscription returns nil when the party never subscribed
	FindLatestSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	ListExpirable(ctx context.Context, now, pendingBefore time.Time) ([]*Subscription, error)
	ListRenewable(ctx context.Context, now time.Time) ([]*Subscription, error)

	CreateBillingHistory(ctx context.Context, entry *BillingHistory) error
	ListBillingHistory(ctx context.Context, party orgs.BilledParty, limit int) ([]*BillingHistory, error)

	CreateTransaction(ctx context.Context, txn *PaymentTransaction) error
	GetTransaction(ctx context.Context, transactionID string) (*PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, txn *PaymentTransaction) error
	ListTransactions(ctx context.Context, subscriptionID int64) ([]*PaymentTransaction, error)
}
