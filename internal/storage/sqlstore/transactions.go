package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

const transactionColumns = `transaction_id, account_id, target_account_id, transaction_type,
	amount, ts, status, fraud_flag, description`

// GetTransaction fetches a transaction by identifier.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, query, id))
}

// TransactionsByAccount streams transactions touching the account (as source
// or transfer target) ordered by timestamp. Reads reflect all committed
// writes; the local engine offers no weaker consistency to document.
func (s *Store) TransactionsByAccount(ctx context.Context, accountID string, order storage.Order, limit int) iter.Seq2[domain.Transaction, error] {
	dir := "ASC"
	if order == storage.Descending {
		dir = "DESC"
	}
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1 OR target_account_id = $2
		ORDER BY ts ` + dir
	args := []any{accountID, accountID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return func(yield func(domain.Transaction, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(domain.Transaction{}, fmt.Errorf("transactions by account: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			txn, err := scanTransaction(rows)
			if err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			if !yield(txn, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Transaction{}, fmt.Errorf("transactions by account: %w", mapErr(err)))
		}
	}
}

// ListTransactions streams up to limit transactions across all accounts,
// newest first. Used only by the reporting paths.
func (s *Store) ListTransactions(ctx context.Context, limit int) iter.Seq2[domain.Transaction, error] {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY ts DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return func(yield func(domain.Transaction, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(domain.Transaction{}, fmt.Errorf("list transactions: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			txn, err := scanTransaction(rows)
			if err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			if !yield(txn, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Transaction{}, fmt.Errorf("list transactions: %w", mapErr(err)))
		}
	}
}

// UpdateTransaction applies mutate inside one transaction.
func (s *Store) UpdateTransaction(ctx context.Context, id string, mutate func(*domain.Transaction) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		txn, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`+s.forUpdate(), id))
		if err != nil {
			return err
		}
		if err := mutate(&txn); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = $1, fraud_flag = $2, description = $3 WHERE transaction_id = $4`,
			string(txn.Status), txn.FraudFlag, nullable(txn.Description), id)
		if err != nil {
			return fmt.Errorf("update transaction: %w", mapErr(err))
		}
		return nil
	})
}

// ApplyTransaction persists the transaction and its balance effects in one
// SQL transaction. Status and funds are validated on the locked rows, so no
// partial state is ever visible.
func (s *Store) ApplyTransaction(ctx context.Context, txn domain.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		source, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT account_id, user_id, balance, status, created_at
			 FROM accounts WHERE account_id = $1`+s.forUpdate(), txn.AccountID))
		if err != nil {
			return err
		}
		if !source.Active() {
			return domain.ErrAccountNotActive
		}

		debit := txn.Type == domain.TypeWithdrawal || txn.Type == domain.TypeTransfer
		if debit && source.Balance.LessThan(txn.Amount) {
			return domain.ErrInsufficientFunds
		}

		newSource := source.Balance.Add(txn.Amount)
		if debit {
			newSource = source.Balance.Sub(txn.Amount)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1 WHERE account_id = $2`,
			newSource.String(), txn.AccountID); err != nil {
			return fmt.Errorf("apply balance: %w", mapErr(err))
		}

		if txn.Type == domain.TypeTransfer {
			target, err := scanAccount(tx.QueryRowContext(ctx,
				`SELECT account_id, user_id, balance, status, created_at
				 FROM accounts WHERE account_id = $1`+s.forUpdate(), txn.TargetAccountID))
			if err != nil {
				return err
			}
			if !target.Active() {
				return domain.ErrAccountNotActive
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET balance = $1 WHERE account_id = $2`,
				target.Balance.Add(txn.Amount).String(), txn.TargetAccountID); err != nil {
				return fmt.Errorf("apply target balance: %w", mapErr(err))
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (`+transactionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			txn.ID, txn.AccountID, nullable(txn.TargetAccountID), string(txn.Type),
			txn.Amount.String(), txn.Timestamp, string(txn.Status), txn.FraudFlag,
			nullable(txn.Description))
		if err != nil {
			return fmt.Errorf("create transaction: %w", mapErr(err))
		}
		return nil
	})
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var txn domain.Transaction
	var target, description sql.NullString
	var amount, txnType, status string
	err := row.Scan(&txn.ID, &txn.AccountID, &target, &txnType, &amount,
		&txn.Timestamp, &status, &txn.FraudFlag, &description)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", mapErr(err))
	}
	txn.TargetAccountID = target.String
	txn.Description = description.String
	txn.Type = domain.TransactionType(txnType)
	txn.Status = domain.TransactionStatus(status)
	txn.Amount, err = decimalFromString(amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
