package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/commercekit/storefront/internal/domain"
)

const (
	defaultNotificationWorkers = 2
	defaultNotificationQueue   = 64
	notificationSendTimeout    = 30 * time.Second
)

// NotificationDispatcherDeps enumerates collaborators required to construct the dispatcher.
type NotificationDispatcherDeps struct {
	Sender  EmailSender
	Workers int
	Queue   int
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// notificationDispatcher delivers order emails through a bounded worker pool.
// Queueing never blocks the committing request: when the queue is full the
// notification is dropped and logged, because order commit must not stall on
// the mail pipeline.
type notificationDispatcher struct {
	sender EmailSender
	queue  chan OrderNotification
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	closeOne sync.Once
}

// NewNotificationDispatcher starts the worker pool and returns the dispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationService, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: email sender is required")
	}

	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	queueSize := deps.Queue
	if queueSize <= 0 {
		queueSize = defaultNotificationQueue
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	d := &notificationDispatcher{
		sender: deps.Sender,
		queue:  make(chan OrderNotification, queueSize),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d, nil
}

// QueueOrderConfirmation enqueues the post-commit confirmation email for the
// customer and a copy for the merchant's store address.
func (d *notificationDispatcher) QueueOrderConfirmation(ctx context.Context, order domain.Order, store domain.MerchantStore) {
	amount := domain.DisplayAmount(store, order.Total)
	d.enqueue(ctx, OrderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StoreCode:   store.Code,
		Recipient:   order.CustomerEmail,
		Subject:     fmt.Sprintf("%s: order %s confirmed", store.Name, order.OrderNumber),
		Body:        fmt.Sprintf("Your order %s for %s has been received.", order.OrderNumber, amount),
		QueuedAt:    d.now(),
	})
	d.enqueue(ctx, OrderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StoreCode:   store.Code,
		Recipient:   store.Email,
		Subject:     fmt.Sprintf("%s: new order %s", store.Name, order.OrderNumber),
		Body: fmt.Sprintf("Order %s for %s was placed by %s.",
			order.OrderNumber, amount, order.CustomerEmail),
		QueuedAt: d.now(),
	})
}

// QueueStatusChange enqueues a lifecycle update email for the customer and a
// copy for the merchant's store address.
func (d *notificationDispatcher) QueueStatusChange(ctx context.Context, order domain.Order, store domain.MerchantStore, status domain.OrderStatus) {
	d.enqueue(ctx, OrderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StoreCode:   store.Code,
		Recipient:   order.CustomerEmail,
		Subject:     fmt.Sprintf("%s: order %s update", store.Name, order.OrderNumber),
		Body:        fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, status),
		QueuedAt:    d.now(),
	})
	d.enqueue(ctx, OrderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StoreCode:   store.Code,
		Recipient:   store.Email,
		Subject:     fmt.Sprintf("%s: order %s update", store.Name, order.OrderNumber),
		Body: fmt.Sprintf("Order %s for %s is now %s.",
			order.OrderNumber, domain.DisplayAmount(store, order.Total), status),
		QueuedAt: d.now(),
	})
}

func (d *notificationDispatcher) enqueue(ctx context.Context, notification OrderNotification) {
	if d == nil || notification.Recipient == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger(ctx, "notifications.dropped_closed", map[string]any{
			"orderId": notification.OrderID,
		})
		return
	}
	select {
	case d.queue <- notification:
		d.logger(ctx, "notifications.queued", map[string]any{
			"orderId": notification.OrderID,
			"subject": notification.Subject,
		})
	default:
		d.logger(ctx, "notifications.dropped_full", map[string]any{
			"orderId": notification.OrderID,
		})
	}
}

func (d *notificationDispatcher) worker() {
	defer d.wg.Done()
	for notification := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
		if err := d.sender.Send(ctx, notification); err != nil {
			d.logger(ctx, "notifications.send_failed", map[string]any{
				"orderId":   notification.OrderID,
				"recipient": notification.Recipient,
				"error":     err.Error(),
			})
		} else {
			d.logger(ctx, "notifications.sent", map[string]any{
				"orderId":   notification.OrderID,
				"recipient": notification.Recipient,
			})
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for in-flight deliveries.
func (d *notificationDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.closeOne.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogEmailSender records deliveries in the structured log instead of sending
// mail, for local development and tests.
type LogEmailSender struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Send implements EmailSender.
func (s LogEmailSender) Send(ctx context.Context, notification OrderNotification) error {
	if s.Logger != nil {
		s.Logger(ctx, "notifications.log_delivery", map[string]any{
			"orderId":   notification.OrderID,
			"recipient": notification.Recipient,
			"subject":   notification.Subject,
		})
	}
	return nil
}
