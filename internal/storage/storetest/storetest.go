// Package storetest is the shared conformance suite every Store adapter must
// pass. Engines with weaker index-read consistency still pass: the suite only
// asserts what the contract promises, and the query checks tolerate eventual
// consistency by asserting over strongly consistent Get reads where it
// matters.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// indexWait bounds how long the suite waits for an eventually consistent
// secondary index to observe a committed write.
const indexWait = 5 * time.Second

// collectEventually polls an index query until ok approves the snapshot or
// the wait budget runs out, returning the last snapshot either way. Index
// queries may briefly omit a just-written record on eventually consistent
// engines, so the suite never asserts immediate index visibility.
func collectEventually[T any](t *testing.T, query func() iter.Seq2[T, error], ok func([]T) bool) []T {
	t.Helper()
	deadline := time.Now().Add(indexWait)
	for {
		out, err := storage.Collect(query())
		if err != nil {
			t.Fatalf("index query: %v", err)
		}
		if ok(out) || time.Now().After(deadline) {
			return out
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Run exercises the full Store contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, factory(t)) })
	t.Run("EmailUniqueness", func(t *testing.T) { testEmailUniqueness(t, factory(t)) })
	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, factory(t)) })
	t.Run("ApplyTransaction", func(t *testing.T) { testApplyTransaction(t, factory(t)) })
	t.Run("ApplyTransactionRejections", func(t *testing.T) { testApplyRejections(t, factory(t)) })
	t.Run("TransactionQueries", func(t *testing.T) { testTransactionQueries(t, factory(t)) })
	t.Run("StaleIndexReads", func(t *testing.T) { testStaleIndexReads(t, factory(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, factory(t)) })
	t.Run("NotificationLifecycle", func(t *testing.T) { testNotificationLifecycle(t, factory(t)) })
	t.Run("DeleteIdempotence", func(t *testing.T) { testDeleteIdempotence(t, factory(t)) })
}

func seedUser(t *testing.T, s storage.Store, email string) domain.User {
	t.Helper()
	user := domain.User{
		ID:           domain.NewID(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "x",
		Role:         domain.RoleFraudAnalyst,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func seedAccount(t *testing.T, s storage.Store, userID string, balance int64) domain.Account {
	t.Helper()
	account := domain.Account{
		ID:        domain.NewID(),
		UserID:    userID,
		Balance:   decimal.NewFromInt(balance),
		Status:    domain.AccountActive,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func testUserLifecycle(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetUser(missing) = %v, want ErrNotFound", err)
	}

	user := seedUser(t, s, "alice@example.com")

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != user.Email || got.Role != user.Role {
		t.Errorf("GetUser = %+v, want %+v", got, user)
	}

	if err := s.CreateUser(ctx, user); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate CreateUser = %v, want ErrConflict", err)
	}

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("GetUserByEmail ID = %s, want %s", byEmail.ID, user.ID)
	}
}

func testEmailUniqueness(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	seedUser(t, s, "bob@example.com")
	dup := domain.User{
		ID:        domain.NewID(),
		Name:      "Other Bob",
		Email:     "bob@example.com",
		Role:      domain.RoleFinancialManager,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("CreateUser(duplicate email) = %v, want ErrConflict", err)
	}
}

func testAccountLifecycle(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "carol@example.com")
	account := seedAccount(t, s, user.ID, 500)

	if err := s.CreateAccount(ctx, account); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate CreateAccount = %v, want ErrConflict", err)
	}

	if err := s.UpdateAccount(ctx, account.ID, func(a *domain.Account) error {
		a.Status = domain.AccountFrozen
		return nil
	}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	got, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Status != domain.AccountFrozen {
		t.Errorf("status after update = %s, want FROZEN", got.Status)
	}

	sentinel := errors.New("mutator refused")
	err = s.UpdateAccount(ctx, account.ID, func(*domain.Account) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("UpdateAccount with failing mutator = %v, want sentinel", err)
	}
	got, _ = s.GetAccount(ctx, account.ID)
	if got.Status != domain.AccountFrozen {
		t.Errorf("failed mutator changed the record: status = %s", got.Status)
	}

	if err := s.UpdateAccount(ctx, "missing", func(*domain.Account) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateAccount(missing) = %v, want ErrNotFound", err)
	}
}

func testApplyTransaction(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "dave@example.com")
	source := seedAccount(t, s, user.ID, 1000)
	target := seedAccount(t, s, user.ID, 0)

	deposit := domain.Transaction{
		ID:        domain.NewID(),
		AccountID: source.ID,
		Type:      domain.TypeDeposit,
		Amount:    decimal.NewFromInt(250),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Status:    domain.StatusCompleted,
	}
	if err := s.ApplyTransaction(ctx, deposit); err != nil {
		t.Fatalf("ApplyTransaction(deposit): %v", err)
	}
	assertBalance(t, s, source.ID, 1250)

	// Re-applying the same transaction ID must not double-apply.
	if err := s.ApplyTransaction(ctx, deposit); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("replayed ApplyTransaction = %v, want ErrConflict", err)
	}
	assertBalance(t, s, source.ID, 1250)

	transfer := domain.Transaction{
		ID:              domain.NewID(),
		AccountID:       source.ID,
		TargetAccountID: target.ID,
		Type:            domain.TypeTransfer,
		Amount:          decimal.NewFromInt(200),
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		Status:          domain.StatusCompleted,
	}
	if err := s.ApplyTransaction(ctx, transfer); err != nil {
		t.Fatalf("ApplyTransaction(transfer): %v", err)
	}
	assertBalance(t, s, source.ID, 1050)
	assertBalance(t, s, target.ID, 200)

	got, err := s.GetTransaction(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.TargetAccountID != target.ID || !got.Amount.Equal(transfer.Amount) {
		t.Errorf("GetTransaction = %+v, want %+v", got, transfer)
	}
}

func testApplyRejections(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "erin@example.com")
	account := seedAccount(t, s, user.ID, 100)

	cases := []struct {
		name    string
		prepare func(t *testing.T)
		txn     domain.Transaction
		wantErr error
	}{
		{
			name: "insufficient funds",
			txn: domain.Transaction{
				ID:        domain.NewID(),
				AccountID: account.ID,
				Type:      domain.TypeWithdrawal,
				Amount:    decimal.NewFromInt(5000),
				Timestamp: time.Now().UTC(),
				Status:    domain.StatusCompleted,
			},
			wantErr: domain.ErrInsufficientFunds,
		},
		{
			name: "missing account",
			txn: domain.Transaction{
				ID:        domain.NewID(),
				AccountID: "missing",
				Type:      domain.TypeDeposit,
				Amount:    decimal.NewFromInt(10),
				Timestamp: time.Now().UTC(),
				Status:    domain.StatusCompleted,
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "frozen account",
			prepare: func(t *testing.T) {
				if err := s.UpdateAccount(ctx, account.ID, func(a *domain.Account) error {
					a.Status = domain.AccountFrozen
					return nil
				}); err != nil {
					t.Fatalf("freeze account: %v", err)
				}
			},
			txn: domain.Transaction{
				ID:        domain.NewID(),
				AccountID: account.ID,
				Type:      domain.TypeDeposit,
				Amount:    decimal.NewFromInt(10),
				Timestamp: time.Now().UTC(),
				Status:    domain.StatusCompleted,
			},
			wantErr: domain.ErrAccountNotActive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare(t)
			}
			if err := s.ApplyTransaction(ctx, tc.txn); !errors.Is(err, tc.wantErr) {
				t.Fatalf("ApplyTransaction = %v, want %v", err, tc.wantErr)
			}
			// A rejected operation must leave no transaction record.
			if _, err := s.GetTransaction(ctx, tc.txn.ID); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("rejected transaction was persisted: %v", err)
			}
		})
	}

	assertBalance(t, s, account.ID, 100)
}

func testTransactionQueries(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "frank@example.com")
	account := seedAccount(t, s, user.ID, 1000)
	other := seedAccount(t, s, user.ID, 1000)

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		txn := domain.Transaction{
			ID:        domain.NewID(),
			AccountID: account.ID,
			Type:      domain.TypeDeposit,
			Amount:    decimal.NewFromInt(int64(10 + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    domain.StatusCompleted,
		}
		if err := s.ApplyTransaction(ctx, txn); err != nil {
			t.Fatalf("seed transaction %d: %v", i, err)
		}
		ids = append(ids, txn.ID)
	}
	// A transfer into the account must also appear in its history.
	incoming := domain.Transaction{
		ID:              domain.NewID(),
		AccountID:       other.ID,
		TargetAccountID: account.ID,
		Type:            domain.TypeTransfer,
		Amount:          decimal.NewFromInt(50),
		Timestamp:       base.Add(10 * time.Minute),
		Status:          domain.StatusCompleted,
	}
	if err := s.ApplyTransaction(ctx, incoming); err != nil {
		t.Fatalf("seed incoming transfer: %v", err)
	}

	descending := collectEventually(t,
		func() iter.Seq2[domain.Transaction, error] {
			return s.TransactionsByAccount(ctx, account.ID, storage.Descending, 0)
		},
		func(txns []domain.Transaction) bool { return len(txns) == 6 })
	if len(descending) != 6 {
		t.Fatalf("history length = %d, want 6", len(descending))
	}
	for i := 1; i < len(descending); i++ {
		if descending[i].Timestamp.After(descending[i-1].Timestamp) {
			t.Errorf("descending order violated at %d", i)
		}
	}
	if descending[0].ID != incoming.ID {
		t.Errorf("newest = %s, want incoming transfer %s", descending[0].ID, incoming.ID)
	}

	limited, err := storage.Collect(s.TransactionsByAccount(ctx, account.ID, storage.Ascending, 3))
	if err != nil {
		t.Fatalf("limited query: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("limited length = %d, want 3", len(limited))
	}
	if limited[0].ID != ids[0] {
		t.Errorf("oldest = %s, want %s", limited[0].ID, ids[0])
	}
}

// testStaleIndexReads pins down the consistency split in the contract: Get is
// strongly consistent, while an index query issued immediately after a write
// may legitimately omit the record. The omission is allowed; absence from
// Get, or the index never converging, is not.
func testStaleIndexReads(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "judy@example.com")
	account := seedAccount(t, s, user.ID, 100)

	txn := domain.Transaction{
		ID:        domain.NewID(),
		AccountID: account.ID,
		Type:      domain.TypeDeposit,
		Amount:    decimal.NewFromInt(10),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Status:    domain.StatusCompleted,
	}
	if err := s.ApplyTransaction(ctx, txn); err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	// The primary-key read must observe the write immediately.
	if _, err := s.GetTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("GetTransaction immediately after write: %v", err)
	}

	// The index may still be catching up; an empty snapshot here is fine.
	immediate, err := storage.Collect(s.TransactionsByAccount(ctx, account.ID, storage.Descending, 0))
	if err != nil {
		t.Fatalf("TransactionsByAccount: %v", err)
	}
	if len(immediate) > 1 {
		t.Fatalf("index returned %d records for a single write", len(immediate))
	}

	converged := collectEventually(t,
		func() iter.Seq2[domain.Transaction, error] {
			return s.TransactionsByAccount(ctx, account.ID, storage.Descending, 0)
		},
		func(txns []domain.Transaction) bool { return len(txns) == 1 })
	if len(converged) != 1 || converged[0].ID != txn.ID {
		t.Fatalf("index never converged on the written record: %+v", converged)
	}
}

func testConcurrentUpdates(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "grace@example.com")
	account := seedAccount(t, s, user.ID, 0)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.UpdateAccount(ctx, account.ID, func(a *domain.Account) error {
				a.Balance = a.Balance.Add(decimal.NewFromInt(1))
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	// Optimistic engines may reject some updates with ErrConflict after their
	// retry budget; what they may never do is lose an acknowledged one.
	acked := 0
	for err := range errs {
		switch {
		case err == nil:
			acked++
		case errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("concurrent UpdateAccount: %v", err)
		}
	}

	got, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(int64(acked))) {
		t.Errorf("balance = %s after %d acknowledged updates", got.Balance, acked)
	}
}

func testNotificationLifecycle(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "heidi@example.com")

	var ids []string
	for i := 0; i < 3; i++ {
		n := domain.Notification{
			ID:        domain.NewID(),
			UserID:    user.ID,
			Title:     fmt.Sprintf("alert %d", i),
			Message:   "details",
			Category:  domain.CategoryFraud,
			CreatedAt: time.Now().UTC().Truncate(time.Second).Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
		ids = append(ids, n.ID)
	}

	listed := collectEventually(t,
		func() iter.Seq2[domain.Notification, error] {
			return s.NotificationsByUser(ctx, user.ID)
		},
		func(ns []domain.Notification) bool { return len(ns) == 3 })
	if len(listed) != 3 {
		t.Fatalf("listed %d notifications, want 3", len(listed))
	}
	if listed[0].ID != ids[2] {
		t.Errorf("newest first violated: got %s, want %s", listed[0].ID, ids[2])
	}

	if err := s.UpdateNotification(ctx, ids[0], func(n *domain.Notification) error {
		n.Read = true
		return nil
	}); err != nil {
		t.Fatalf("UpdateNotification: %v", err)
	}
	got, err := s.GetNotification(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if !got.Read {
		t.Error("read flag not persisted")
	}
}

func testDeleteIdempotence(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	user := seedUser(t, s, "ivan@example.com")
	n := domain.Notification{
		ID:        domain.NewID(),
		UserID:    user.ID,
		Title:     "once",
		Message:   "m",
		Category:  domain.CategorySystem,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.DeleteNotification(ctx, n.ID); err != nil {
			t.Fatalf("DeleteNotification attempt %d: %v", i+1, err)
		}
	}
	if _, err := s.GetNotification(ctx, n.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetNotification after delete = %v, want ErrNotFound", err)
	}
}

func assertBalance(t *testing.T, s storage.Store, accountID string, want int64) {
	t.Helper()
	account, err := s.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", accountID, err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(want)) {
		t.Errorf("balance of %s = %s, want %d", accountID, account.Balance, want)
	}
}
