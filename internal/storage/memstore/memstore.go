// Package memstore provides an in-memory Store used by unit tests and by
// zero-dependency local runs (STORAGE_MODE=memory). It implements the exact
// contract semantics, including strong consistency on queries, so the shared
// conformance suite runs against it unchanged.
package memstore

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a thread-safe in-memory record store.
type Store struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	accounts      map[string]domain.Account
	transactions  map[string]domain.Transaction
	notifications map[string]domain.Notification
	emailIndex    map[string]string // lowercased email -> user ID
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		accounts:      make(map[string]domain.Account),
		transactions:  make(map[string]domain.Transaction),
		notifications: make(map[string]domain.Notification),
		emailIndex:    make(map[string]string),
	}
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, ok := s.users[user.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := s.emailIndex[key]; ok {
		return domain.ErrConflict
	}
	s.users[user.ID] = user
	s.emailIndex[key] = user.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(ctx context.Context) iter.Seq2[domain.User, error] {
	s.mu.RLock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return yieldAll(ctx, out)
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return domain.ErrConflict
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (s *Store) AccountsByUser(ctx context.Context, userID string) iter.Seq2[domain.Account, error] {
	s.mu.RLock()
	var out []domain.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return yieldAll(ctx, out)
}

func (s *Store) ListAccounts(ctx context.Context) iter.Seq2[domain.Account, error] {
	s.mu.RLock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return yieldAll(ctx, out)
}

func (s *Store) UpdateAccount(ctx context.Context, id string, mutate func(*domain.Account) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := mutate(&account); err != nil {
		return err
	}
	s.accounts[id] = account
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Store) TransactionsByAccount(ctx context.Context, accountID string, order storage.Order, limit int) iter.Seq2[domain.Transaction, error] {
	s.mu.RLock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID || t.TargetAccountID == accountID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if order == storage.Descending {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return yieldAll(ctx, out)
}

func (s *Store) ListTransactions(ctx context.Context, limit int) iter.Seq2[domain.Transaction, error] {
	s.mu.RLock()
	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return yieldAll(ctx, out)
}

func (s *Store) UpdateTransaction(ctx context.Context, id string, mutate func(*domain.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := mutate(&txn); err != nil {
		return err
	}
	s.transactions[id] = txn
	return nil
}

func (s *Store) ApplyTransaction(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.ID]; ok {
		return domain.ErrConflict
	}

	source, ok := s.accounts[txn.AccountID]
	if !ok {
		return domain.ErrNotFound
	}
	if !source.Active() {
		return domain.ErrAccountNotActive
	}

	var target domain.Account
	if txn.Type == domain.TypeTransfer {
		target, ok = s.accounts[txn.TargetAccountID]
		if !ok {
			return domain.ErrNotFound
		}
		if !target.Active() {
			return domain.ErrAccountNotActive
		}
	}

	switch txn.Type {
	case domain.TypeDeposit:
		source.Balance = source.Balance.Add(txn.Amount)
	case domain.TypeWithdrawal:
		if source.Balance.LessThan(txn.Amount) {
			return domain.ErrInsufficientFunds
		}
		source.Balance = source.Balance.Sub(txn.Amount)
	case domain.TypeTransfer:
		if source.Balance.LessThan(txn.Amount) {
			return domain.ErrInsufficientFunds
		}
		source.Balance = source.Balance.Sub(txn.Amount)
		target.Balance = target.Balance.Add(txn.Amount)
		s.accounts[target.ID] = target
	}

	s.accounts[source.ID] = source
	s.transactions[txn.ID] = txn
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return domain.ErrConflict
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	return n, nil
}

func (s *Store) NotificationsByUser(ctx context.Context, userID string) iter.Seq2[domain.Notification, error] {
	s.mu.RLock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return yieldAll(ctx, out)
}

func (s *Store) UpdateNotification(ctx context.Context, id string, mutate func(*domain.Notification) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := mutate(&n); err != nil {
		return err
	}
	s.notifications[id] = n
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, id)
	return nil
}

func (s *Store) Close() error { return nil }

// yieldAll wraps a snapshot slice in a sequence, respecting cancellation.
// The snapshot is taken before yielding so callers may issue store calls
// from inside the loop body without deadlocking.
func yieldAll[T any](ctx context.Context, items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
