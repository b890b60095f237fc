// Package bank implements the money-movement operations: deposits,
// withdrawals, and transfers, plus account creation and transaction history.
//
// Every operation persists through the store's atomic ApplyTransaction, then
// runs the fraud pipeline synchronously so the fraud flag is already visible
// when the caller reads the result back.
package bank

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/fraud"
	"github.com/finsentry/finsentry/internal/storage"
)

// Scorer evaluates a committed transaction. Satisfied by *fraud.Engine.
type Scorer interface {
	Evaluate(ctx context.Context, txn domain.Transaction) (fraud.Verdict, error)
}

// Service handles accounts and transactions.
type Service struct {
	store  storage.Store
	scorer Scorer
}

// NewService wires the banking service to the store and fraud scorer.
func NewService(store storage.Store, scorer Scorer) *Service {
	return &Service{store: store, scorer: scorer}
}

// CreateAccount opens a new ACTIVE account for the user with the given
// starting balance.
func (s *Service) CreateAccount(ctx context.Context, userID string, balance decimal.Decimal) (domain.Account, error) {
	if balance.IsNegative() {
		return domain.Account{}, fmt.Errorf("opening balance: %w", domain.ErrInvalidAmount)
	}
	account := domain.Account{
		ID:        domain.NewID(),
		UserID:    userID,
		Balance:   balance,
		Status:    domain.AccountActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// GetAccount fetches one account.
func (s *Service) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Accounts lists the user's accounts.
func (s *Service) Accounts(ctx context.Context, userID string) ([]domain.Account, error) {
	return storage.Collect(s.store.AccountsByUser(ctx, userID))
}

// SetAccountStatus freezes or unfreezes an account.
func (s *Service) SetAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	return s.store.UpdateAccount(ctx, id, func(a *domain.Account) error {
		a.Status = status
		return nil
	})
}

// Deposit credits the account. The amount must be positive and the account
// ACTIVE; a rejected deposit leaves no transaction record.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (domain.Transaction, error) {
	return s.apply(ctx, domain.Transaction{
		ID:          domain.NewID(),
		AccountID:   accountID,
		Type:        domain.TypeDeposit,
		Amount:      amount,
		Timestamp:   time.Now().UTC(),
		Status:      domain.StatusCompleted,
		Description: description,
	})
}

// Withdraw debits the account. Fails with domain.ErrInsufficientFunds when the
// balance cannot cover the amount.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (domain.Transaction, error) {
	return s.apply(ctx, domain.Transaction{
		ID:          domain.NewID(),
		AccountID:   accountID,
		Type:        domain.TypeWithdrawal,
		Amount:      amount,
		Timestamp:   time.Now().UTC(),
		Status:      domain.StatusCompleted,
		Description: description,
	})
}

// Transfer moves money between two distinct accounts in one atomic operation.
func (s *Service) Transfer(ctx context.Context, accountID, targetAccountID string, amount decimal.Decimal, description string) (domain.Transaction, error) {
	if accountID == targetAccountID {
		return domain.Transaction{}, domain.ErrSameAccount
	}
	return s.apply(ctx, domain.Transaction{
		ID:              domain.NewID(),
		AccountID:       accountID,
		TargetAccountID: targetAccountID,
		Type:            domain.TypeTransfer,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		Status:          domain.StatusCompleted,
		Description:     description,
	})
}

// apply validates the amount, commits the transaction atomically, then scores
// it. Scoring happens after the commit: the money has moved regardless of the
// verdict, and a flag only marks the record and raises alerts.
func (s *Service) apply(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	if !txn.Amount.IsPositive() {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	if err := s.store.ApplyTransaction(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("apply %s: %w", txn.Type, err)
	}

	verdict, err := s.scorer.Evaluate(ctx, txn)
	if err != nil {
		// The transaction committed; a scoring failure must not fail it.
		log.Printf("bank: scoring transaction %s: %v", txn.ID, err)
		return txn, nil
	}
	txn.FraudFlag = verdict.Flagged
	return txn, nil
}

// GetTransaction fetches one transaction.
func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// History returns the account's transactions, newest first. A limit of zero
// returns everything.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	return storage.Collect(s.store.TransactionsByAccount(ctx, accountID, storage.Descending, limit))
}

// ExportCSV streams the account's full history as CSV, newest first.
func (s *Service) ExportCSV(ctx context.Context, accountID string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "type", "amount", "timestamp", "target_account_id", "status", "fraud_flag", "description"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for txn, err := range s.store.TransactionsByAccount(ctx, accountID, storage.Descending, 0) {
		if err != nil {
			return fmt.Errorf("export history: %w", err)
		}
		record := []string{
			txn.ID,
			string(txn.Type),
			txn.Amount.String(),
			txn.Timestamp.UTC().Format(time.RFC3339),
			txn.TargetAccountID,
			string(txn.Status),
			fmt.Sprintf("%t", txn.FraudFlag),
			txn.Description,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
