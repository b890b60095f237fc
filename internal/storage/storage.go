// Package storage defines the engine-agnostic record store contract.
//
// Every persistence-dependent component is written once against Store; the
// concrete engine (embedded SQL, DynamoDB, or in-memory) is chosen exactly
// once at process start and injected. The only engine-specific behavior that
// leaks through the contract is the consistency caveat on index queries,
// documented below.
package storage

import (
	"context"
	"iter"

	"github.com/finsentry/finsentry/internal/domain"
)

// Order controls the timestamp direction of index queries.
type Order int

const (
	// Ascending returns oldest records first.
	Ascending Order = iota
	// Descending returns newest records first.
	Descending
)

// Store is the uniform data-access contract over the four entity kinds.
//
// Semantics shared by all implementations:
//
//   - Create* inserts a new record and fails with domain.ErrConflict when the
//     identifier (or a unique attribute such as the user email) already exists.
//   - Get* fails with domain.ErrNotFound when the identifier is absent, and is
//     strongly consistent on every engine.
//   - The *By* query methods return lazy, finite, non-restartable sequences
//     ordered by the index's natural sort key. Callers must not assume strong
//     consistency: on the remote engine a query issued immediately after a
//     write may not yet observe that write.
//   - Update* reads the record, applies the mutator, and writes it back with
//     single-record atomicity: concurrent updates to the same identifier never
//     interleave partially. Cross-record atomicity across multiple Update*
//     calls is NOT guaranteed. If the mutator returns an error the write is
//     abandoned and the error is returned unwrapped.
//   - DeleteNotification is idempotent; absence is not an error.
//
// All methods honor context cancellation; a cancelled single-record write
// either completes fully or not at all.
type Store interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	ListUsers(ctx context.Context) iter.Seq2[domain.User, error]

	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	AccountsByUser(ctx context.Context, userID string) iter.Seq2[domain.Account, error]
	// ListAccounts scans every account. Reporting-only; same consistency
	// caveat as the index queries.
	ListAccounts(ctx context.Context) iter.Seq2[domain.Account, error]
	UpdateAccount(ctx context.Context, id string, mutate func(*domain.Account) error) error

	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	TransactionsByAccount(ctx context.Context, accountID string, order Order, limit int) iter.Seq2[domain.Transaction, error]
	// ListTransactions scans up to limit transactions across all accounts,
	// newest first. A limit of zero scans everything. Reporting-only.
	ListTransactions(ctx context.Context, limit int) iter.Seq2[domain.Transaction, error]
	UpdateTransaction(ctx context.Context, id string, mutate func(*domain.Transaction) error) error

	// ApplyTransaction atomically persists the transaction record together
	// with the balance change it implies on the source account (and the
	// target account for transfers). Inside the same atomic unit it verifies
	// that the debited account is ACTIVE and holds sufficient funds,
	// returning domain.ErrAccountNotActive or domain.ErrInsufficientFunds
	// without persisting anything. This is the single cross-record operation
	// the contract offers; there is never a visible transaction without its
	// balance update, nor the reverse.
	ApplyTransaction(ctx context.Context, txn domain.Transaction) error

	CreateNotification(ctx context.Context, n domain.Notification) error
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	NotificationsByUser(ctx context.Context, userID string) iter.Seq2[domain.Notification, error]
	UpdateNotification(ctx context.Context, id string, mutate func(*domain.Notification) error) error
	DeleteNotification(ctx context.Context, id string) error

	// Close releases engine resources. Safe to call once at shutdown.
	Close() error
}

// Collect drains a query sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Errs returns a sequence that yields only the given error. Adapters use it
// when a query cannot even begin.
func Errs[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
