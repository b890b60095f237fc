package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/finsentry/finsentry/internal/domain"
)

// CreateNotification inserts a new notification row.
func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (notification_id, user_id, title, message, category, created_at, read_flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Title, n.Message, string(n.Category), n.CreatedAt, n.Read)
	if err != nil {
		return fmt.Errorf("create notification: %w", mapErr(err))
	}
	return nil
}

// GetNotification fetches a notification by identifier.
func (s *Store) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	const query = `
		SELECT notification_id, user_id, title, message, category, created_at, read_flag
		FROM notifications WHERE notification_id = $1
	`
	return scanNotification(s.db.QueryRowContext(ctx, query, id))
}

// NotificationsByUser streams the user's notifications, newest first.
func (s *Store) NotificationsByUser(ctx context.Context, userID string) iter.Seq2[domain.Notification, error] {
	const query = `
		SELECT notification_id, user_id, title, message, category, created_at, read_flag
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC
	`
	return func(yield func(domain.Notification, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, userID)
		if err != nil {
			yield(domain.Notification{}, fmt.Errorf("notifications by user: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				yield(domain.Notification{}, err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Notification{}, fmt.Errorf("notifications by user: %w", mapErr(err)))
		}
	}
}

// UpdateNotification applies mutate inside one transaction.
func (s *Store) UpdateNotification(ctx context.Context, id string, mutate func(*domain.Notification) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := scanNotification(tx.QueryRowContext(ctx,
			`SELECT notification_id, user_id, title, message, category, created_at, read_flag
			 FROM notifications WHERE notification_id = $1`+s.forUpdate(), id))
		if err != nil {
			return err
		}
		if err := mutate(&n); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE notifications SET read_flag = $1 WHERE notification_id = $2`, n.Read, id)
		if err != nil {
			return fmt.Errorf("update notification: %w", mapErr(err))
		}
		return nil
	})
}

// DeleteNotification removes the row if present; absence is not an error.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE notification_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", mapErr(err))
	}
	return nil
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var category string
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &category, &n.CreatedAt, &n.Read)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("get notification: %w", mapErr(err))
	}
	n.Category = domain.NotificationCategory(category)
	return n, nil
}
