// Package alert delivers fraud and compliance alerts.
//
// Dispatch is fire-and-forget from the caller's perspective: Notify enqueues
// onto a bounded queue drained by a background worker, so transaction
// handling never blocks on alert delivery. Alerts are never silently lost —
// a full queue or a failed broker publish degrades to persisting the
// notification records directly.
package alert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// deliverTimeout bounds a single background delivery attempt.
const deliverTimeout = 10 * time.Second

// Alert is one outbound notification request. Recipients selects explicit
// user IDs; Role additionally selects every user holding that role.
type Alert struct {
	Category   domain.NotificationCategory
	Recipients []string
	Role       domain.Role
	Title      string
	Message    string
}

// Dispatcher is the notification contract callers depend on.
type Dispatcher interface {
	Notify(ctx context.Context, a Alert)
}

// Sink delivers an alert to a concrete channel for the resolved recipients.
type Sink interface {
	Deliver(ctx context.Context, a Alert, recipients []string) error
}

// AsyncDispatcher drains a bounded queue through a primary sink, falling
// back to direct store persistence when the sink fails or the queue is full.
type AsyncDispatcher struct {
	sink     Sink
	fallback *StoreSink
	store    storage.Store

	queue chan Alert
	once  sync.Once
	wg    sync.WaitGroup
}

// NewDispatcher starts the background worker. Pass the same value as sink
// and fallback target store; sink may be a StoreSink itself in local mode.
func NewDispatcher(sink Sink, store storage.Store, queueSize int) *AsyncDispatcher {
	d := &AsyncDispatcher{
		sink:     sink,
		fallback: &StoreSink{Store: store},
		store:    store,
		queue:    make(chan Alert, queueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues the alert without blocking. When the queue is full the
// alert is persisted synchronously through the fallback sink instead of
// being dropped. The primary sink is never used on this path: a slow or
// unreachable broker must not block the caller.
func (d *AsyncDispatcher) Notify(ctx context.Context, a Alert) {
	select {
	case d.queue <- a:
	default:
		log.Printf("alert dispatcher: queue full, persisting alert directly")
		d.persist(a)
	}
}

// Close stops accepting alerts, drains the queue, and waits for the worker.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for a := range d.queue {
		d.deliver(a)
	}
}

// deliver resolves recipients and pushes the alert through the sink,
// falling back to direct persistence on failure. Runs detached from the
// originating request, so it uses its own bounded context.
func (d *AsyncDispatcher) deliver(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	recipients, ok := d.recipients(ctx, a)
	if !ok {
		return
	}

	if err := d.sink.Deliver(ctx, a, recipients); err != nil {
		log.Printf("alert dispatcher: delivery failed, persisting fallback: %v", err)
		if ferr := d.fallback.Deliver(ctx, a, recipients); ferr != nil {
			log.Printf("alert dispatcher: fallback persistence failed: %v", ferr)
		}
	}
}

// persist writes the notification records straight through the fallback sink.
// Used when the queue is full, so it must stay off the primary sink.
func (d *AsyncDispatcher) persist(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	recipients, ok := d.recipients(ctx, a)
	if !ok {
		return
	}
	if err := d.fallback.Deliver(ctx, a, recipients); err != nil {
		log.Printf("alert dispatcher: fallback persistence failed: %v", err)
	}
}

func (d *AsyncDispatcher) recipients(ctx context.Context, a Alert) ([]string, bool) {
	recipients, err := d.resolve(ctx, a)
	if err != nil {
		log.Printf("alert dispatcher: resolving recipients: %v", err)
	}
	if len(recipients) == 0 {
		log.Printf("alert dispatcher: no recipients for %s alert %q", a.Category, a.Title)
		return nil, false
	}
	return recipients, true
}

// resolve expands the role selector and deduplicates against the explicit
// recipient list.
func (d *AsyncDispatcher) resolve(ctx context.Context, a Alert) ([]string, error) {
	seen := make(map[string]bool, len(a.Recipients))
	out := make([]string, 0, len(a.Recipients))
	for _, id := range a.Recipients {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if a.Role == "" {
		return out, nil
	}
	for user, err := range d.store.ListUsers(ctx) {
		if err != nil {
			return out, fmt.Errorf("list users for role %s: %w", a.Role, err)
		}
		if user.Role == a.Role && !seen[user.ID] {
			seen[user.ID] = true
			out = append(out, user.ID)
		}
	}
	return out, nil
}

// StoreSink persists one notification record per recipient. It is the local
// delivery implementation and the universal fallback.
type StoreSink struct {
	Store storage.Store
}

// Deliver writes the notification records and logs the alert.
func (s *StoreSink) Deliver(ctx context.Context, a Alert, recipients []string) error {
	var firstErr error
	for _, userID := range recipients {
		n := domain.Notification{
			ID:        domain.NewID(),
			UserID:    userID,
			Title:     a.Title,
			Message:   a.Message,
			Category:  a.Category,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.Store.CreateNotification(ctx, n); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("persist notification for %s: %w", userID, err)
			}
			continue
		}
	}
	if firstErr != nil {
		return firstErr
	}
	log.Printf("alert [%s] %s -> %d recipient(s)", a.Category, a.Title, len(recipients))
	return nil
}
