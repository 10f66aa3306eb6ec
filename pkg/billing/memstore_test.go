package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// memStore is an in-memory Store. Transactions are serialized and roll back
// by restoring a snapshot. Like the Postgres schema it rejects a second open
// subscription for the same party.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID  int64
	subs    map[int64]Subscription
	history []BillingHistory
	txns    map[string]PaymentTransaction

	failOn map[string]error
	now    func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		subs:   map[int64]Subscription{},
		txns:   map[string]PaymentTransaction{},
		failOn: map[string]error{},
		now:    time.Now,
	}
}

type memSnapshot struct {
	nextID  int64
	subs    map[int64]Subscription
	history []BillingHistory
	txns    map[string]PaymentTransaction
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		nextID:  s.nextID,
		subs:    make(map[int64]Subscription, len(s.subs)),
		history: append([]BillingHistory(nil), s.history...),
		txns:    make(map[string]PaymentTransaction, len(s.txns)),
	}
	for k, v := range s.subs {
		snap.subs[k] = v
	}
	for k, v := range s.txns {
		snap.txns[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID, s.subs, s.history, s.txns = snap.nextID, snap.subs, snap.history, snap.txns
}

func (s *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failOn[op]; ok {
		return apperrors.Persistence(op, err)
	}
	return nil
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) checkOpen(sub *Subscription) error {
	if !sub.Status.IsOpen() {
		return nil
	}
	for id, other := range s.subs {
		if id != sub.ID && other.Status.IsOpen() && other.BilledParty.Equal(sub.BilledParty) {
			return apperrors.Conflict(apperrors.CodeDuplicateSubscription, "billed party already has an open subscription")
		}
	}
	return nil
}

func (s *memStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if err := s.fail("create subscription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(sub); err != nil {
		return err
	}
	sub.ID = s.id()
	sub.CreatedAt = s.now()
	sub.UpdatedAt = sub.CreatedAt
	s.subs[sub.ID] = *sub
	return nil
}

func (s *memStore) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeSubscriptionNotFound, "subscription %d not found", id)
	}
	return &sub, nil
}

func (s *memStore) FindOpenSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Status.IsOpen() && sub.BilledParty.Equal(party) {
			found := sub
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindLatestSubscription(ctx context.Context, party orgs.BilledParty) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Subscription
	for _, sub := range s.subs {
		if sub.BilledParty.Equal(party) && (latest == nil || sub.ID > latest.ID) {
			found := sub
			latest = &found
		}
	}
	return latest, nil
}

func (s *memStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if err := s.fail("update subscription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return apperrors.NotFound(apperrors.CodeSubscriptionNotFound, "subscription %d not found", sub.ID)
	}
	if err := s.checkOpen(sub); err != nil {
		return err
	}
	sub.UpdatedAt = s.now()
	s.subs[sub.ID] = *sub
	return nil
}

func (s *memStore) list(match func(Subscription) bool) []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if match(sub) {
			found := sub
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListExpirable(ctx context.Context, now, pendingBefore time.Time) ([]*Subscription, error) {
	return s.list(func(sub Subscription) bool {
		if sub.Status == StatusPending {
			return !sub.CreatedAt.After(pendingBefore)
		}
		return (sub.Status == StatusActive || sub.Status == StatusTrial) && !sub.AutoRenew && !sub.EndDate.After(now)
	}), nil
}

func (s *memStore) ListRenewable(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return s.list(func(sub Subscription) bool {
		return (sub.Status == StatusActive || sub.Status == StatusTrial) && sub.AutoRenew && !sub.EndDate.After(now)
	}), nil
}

func (s *memStore) CreateBillingHistory(ctx context.Context, entry *BillingHistory) error {
	if err := s.fail("create billing history"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	entry.CreatedAt = s.now()
	s.history = append(s.history, *entry)
	return nil
}

func (s *memStore) ListBillingHistory(ctx context.Context, party orgs.BilledParty, limit int) ([]*BillingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*BillingHistory
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].BilledParty.Equal(party) {
			entry := s.history[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (s *memStore) CreateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txns[txn.TransactionID]; exists {
		return apperrors.Persistence("create payment transaction", errDuplicateTransaction)
	}
	txn.ID = s.id()
	txn.CreatedAt = s.now()
	txn.UpdatedAt = txn.CreatedAt
	s.txns[txn.TransactionID] = *txn
	return nil
}

func (s *memStore) GetTransaction(ctx context.Context, transactionID string) (*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[transactionID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction %s not found", transactionID)
	}
	return &txn, nil
}

func (s *memStore) UpdateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn.UpdatedAt = s.now()
	s.txns[txn.TransactionID] = *txn
	return nil
}

func (s *memStore) ListTransactions(ctx context.Context, subscriptionID int64) ([]*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PaymentTransaction
	for _, txn := range s.txns {
		if txn.SubscriptionID == subscriptionID {
			found := txn
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// helpers for assertions

func (s *memStore) openCount(party orgs.BilledParty) int {
	return len(s.list(func(sub Subscription) bool {
		return sub.Status.IsOpen() && sub.BilledParty.Equal(party)
	}))
}

func (s *memStore) partyCount(party orgs.BilledParty) int {
	return len(s.list(func(sub Subscription) bool { return sub.BilledParty.Equal(party) }))
}

func (s *memStore) historyFor(subscriptionID int64) []BillingHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BillingHistory
	for _, entry := range s.history {
		if entry.SubscriptionID != nil && *entry.SubscriptionID == subscriptionID {
			out = append(out, entry)
		}
	}
	return out
}
