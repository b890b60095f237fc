package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// NotificationService exposes a user's notification inbox.
type NotificationService struct {
	store storage.Store
}

// NewNotificationService wires the service to the record store.
func NewNotificationService(store storage.Store) *NotificationService {
	return &NotificationService{store: store}
}

// List returns the user's notifications, newest first. unreadOnly filters to
// records not yet marked read.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for n, err := range s.store.NotificationsByUser(ctx, userID) {
		if err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UnreadCount reports how many notifications the user has not read yet.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count := 0
	for n, err := range s.store.NotificationsByUser(ctx, userID) {
		if err != nil {
			return 0, fmt.Errorf("count notifications: %w", err)
		}
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead toggles the read flag on. Marking an already-read notification is
// a no-op. A notification belonging to another user reads as absent.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.UpdateNotification(ctx, id, func(n *domain.Notification) error {
		if n.UserID != userID {
			return domain.ErrNotFound
		}
		n.Read = true
		return nil
	})
}

// Delete removes the user's notification. Deleting an absent notification is
// not an error; deleting another user's is refused as absent.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	n, err := s.store.GetNotification(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n.UserID != userID {
		return domain.ErrNotFound
	}
	return s.store.DeleteNotification(ctx, id)
}
