package alert_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finsentry/finsentry/internal/alert"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/memstore"
)

func seedUser(t *testing.T, store storage.Store, email string, role domain.Role) domain.User {
	t.Helper()
	user := domain.User{
		ID: domain.NewID(), Name: "u", Email: email, Role: role,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func notificationsFor(t *testing.T, store storage.Store, userID string) []domain.Notification {
	t.Helper()
	out, err := storage.Collect(store.NotificationsByUser(context.Background(), userID))
	if err != nil {
		t.Fatalf("NotificationsByUser: %v", err)
	}
	return out
}

func TestStoreSinkPersistsPerRecipient(t *testing.T) {
	store := memstore.New()
	sink := &alert.StoreSink{Store: store}

	a := alert.Alert{
		Category: domain.CategoryFraud,
		Title:    "Suspicious transaction flagged",
		Message:  "details",
	}
	recipients := []string{domain.NewID(), domain.NewID()}
	if err := sink.Deliver(context.Background(), a, recipients); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	for _, id := range recipients {
		got := notificationsFor(t, store, id)
		if len(got) != 1 {
			t.Fatalf("recipient %s has %d notifications, want 1", id, len(got))
		}
		if got[0].Category != domain.CategoryFraud || got[0].Title != a.Title {
			t.Errorf("notification = %+v", got[0])
		}
	}
}

// failingSink always refuses delivery.
type failingSink struct{ calls int }

func (s *failingSink) Deliver(context.Context, alert.Alert, []string) error {
	s.calls++
	return errors.New("broker unavailable")
}

func TestDispatcherFallsBackOnSinkFailure(t *testing.T) {
	store := memstore.New()
	sink := &failingSink{}
	d := alert.NewDispatcher(sink, store, 8)

	recipient := domain.NewID()
	d.Notify(context.Background(), alert.Alert{
		Category:   domain.CategoryFraud,
		Recipients: []string{recipient},
		Title:      "t",
		Message:    "m",
	})
	d.Close()

	if sink.calls != 1 {
		t.Errorf("sink called %d times, want 1", sink.calls)
	}
	if got := notificationsFor(t, store, recipient); len(got) != 1 {
		t.Errorf("fallback persisted %d notifications, want 1", len(got))
	}
}

// blockingSink parks deliveries until released, so tests can fill the queue
// deterministically.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Deliver(context.Context, alert.Alert, []string) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestDispatcherPersistsWhenQueueFull(t *testing.T) {
	store := memstore.New()
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	d := alert.NewDispatcher(sink, store, 1)

	overflow := domain.NewID()
	send := func(recipient string) {
		d.Notify(context.Background(), alert.Alert{
			Category:   domain.CategorySystem,
			Recipients: []string{recipient},
			Title:      "t",
			Message:    "m",
		})
	}

	send(domain.NewID()) // worker picks this up and blocks in the sink
	<-sink.entered
	send(domain.NewID()) // fills the queue

	// The overflow alert must bypass the blocked primary sink entirely:
	// it is persisted through the store fallback and Notify returns.
	done := make(chan struct{})
	go func() {
		send(overflow)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on the primary sink with a full queue")
	}

	if got := notificationsFor(t, store, overflow); len(got) != 1 {
		t.Fatalf("overflow alert persisted %d notifications, want 1", len(got))
	}

	close(sink.release)
	go func() {
		for range sink.entered {
		}
	}()
	d.Close()
}

func TestDispatcherResolvesRoleRecipients(t *testing.T) {
	store := memstore.New()
	analystA := seedUser(t, store, "a@example.com", domain.RoleFraudAnalyst)
	analystB := seedUser(t, store, "b@example.com", domain.RoleFraudAnalyst)
	manager := seedUser(t, store, "m@example.com", domain.RoleFinancialManager)

	d := alert.NewDispatcher(&alert.StoreSink{Store: store}, store, 8)
	d.Notify(context.Background(), alert.Alert{
		Category: domain.CategoryFraud,
		// analystA is both explicit and role-selected; must not be doubled.
		Recipients: []string{analystA.ID},
		Role:       domain.RoleFraudAnalyst,
		Title:      "t",
		Message:    "m",
	})
	d.Close()

	if got := notificationsFor(t, store, analystA.ID); len(got) != 1 {
		t.Errorf("analystA has %d notifications, want 1", len(got))
	}
	if got := notificationsFor(t, store, analystB.ID); len(got) != 1 {
		t.Errorf("analystB has %d notifications, want 1", len(got))
	}
	if got := notificationsFor(t, store, manager.ID); len(got) != 0 {
		t.Errorf("manager has %d notifications, want 0", len(got))
	}
}
