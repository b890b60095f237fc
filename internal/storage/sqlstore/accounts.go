package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/finsentry/finsentry/internal/domain"
)

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	const query = `
		INSERT INTO accounts (account_id, user_id, balance, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.UserID, account.Balance.String(), string(account.Status), account.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", mapErr(err))
	}
	return nil
}

// GetAccount fetches an account by identifier.
func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	const query = `
		SELECT account_id, user_id, balance, status, created_at
		FROM accounts WHERE account_id = $1
	`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// AccountsByUser streams the user's accounts ordered by creation time.
func (s *Store) AccountsByUser(ctx context.Context, userID string) iter.Seq2[domain.Account, error] {
	const query = `
		SELECT account_id, user_id, balance, status, created_at
		FROM accounts WHERE user_id = $1 ORDER BY created_at
	`
	return func(yield func(domain.Account, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, userID)
		if err != nil {
			yield(domain.Account{}, fmt.Errorf("accounts by user: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			account, err := scanAccount(rows)
			if err != nil {
				yield(domain.Account{}, err)
				return
			}
			if !yield(account, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Account{}, fmt.Errorf("accounts by user: %w", mapErr(err)))
		}
	}
}

// ListAccounts streams every account ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) iter.Seq2[domain.Account, error] {
	const query = `
		SELECT account_id, user_id, balance, status, created_at
		FROM accounts ORDER BY created_at
	`
	return func(yield func(domain.Account, error) bool) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			yield(domain.Account{}, fmt.Errorf("list accounts: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			account, err := scanAccount(rows)
			if err != nil {
				yield(domain.Account{}, err)
				return
			}
			if !yield(account, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Account{}, fmt.Errorf("list accounts: %w", mapErr(err)))
		}
	}
}

// UpdateAccount applies mutate to the account inside one transaction,
// giving linearizable single-record updates.
func (s *Store) UpdateAccount(ctx context.Context, id string, mutate func(*domain.Account) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		account, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT account_id, user_id, balance, status, created_at
			 FROM accounts WHERE account_id = $1`+s.forUpdate(), id))
		if err != nil {
			return err
		}
		if err := mutate(&account); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1, status = $2 WHERE account_id = $3`,
			account.Balance.String(), string(account.Status), id)
		if err != nil {
			return fmt.Errorf("update account: %w", mapErr(err))
		}
		return nil
	})
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var account domain.Account
	var balance, status string
	err := row.Scan(&account.ID, &account.UserID, &balance, &status, &account.CreatedAt)
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account: %w", mapErr(err))
	}
	account.Balance, err = decimalFromString(balance)
	if err != nil {
		return domain.Account{}, err
	}
	account.Status = domain.AccountStatus(status)
	return account, nil
}
