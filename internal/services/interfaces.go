package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
)

// CommitOrderCommand carries everything the order workflow needs to turn a
// shopping cart into a committed order. SubmittedTotal is the formatted amount
// string confirmed by the shopper; the workflow rejects the commit when it does
// not match the server-side calculation.
type CommitOrderCommand struct {
	StoreCode      string
	CartCode       string
	Customer       domain.Customer
	Payment        domain.Payment
	CreditCard     *domain.CreditCardPayment
	Shipping       *domain.ShippingSummary
	SubmittedTotal string
	IdempotencyKey string
}

// RefundOrderCommand requests a full or partial refund against an order.
type RefundOrderCommand struct {
	StoreCode string
	OrderID   string
	Amount    decimal.Decimal
	Partial   bool
}

// UpdateOrderStatusCommand moves an order through its lifecycle, recording
// an immutable history entry.
type UpdateOrderStatusCommand struct {
	StoreCode      string
	OrderID        string
	Status         domain.OrderStatus
	Comments       string
	NotifyCustomer bool
}

// OrderTotalSummary is the calculated money breakdown for a cart.
type OrderTotalSummary struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Handling decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Totals   []domain.OrderTotal
	// PromoExpired reports that the cart carried a promo code past its
	// calendar-day lifetime; the code earned no discount and must be removed
	// from the cart.
	PromoExpired bool
}

// OrderService owns the order commit workflow and post-commit money movement.
type OrderService interface {
	CommitOrder(ctx context.Context, cmd CommitOrderCommand) (domain.Order, error)
	CaptureOrder(ctx context.Context, storeCode, orderID string) (domain.Transaction, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (domain.Transaction, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) error
	NextTransaction(ctx context.Context, orderID string) (domain.TransactionType, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error)
}

// OrderListQuery selects a page of a customer's orders, newest first.
type OrderListQuery struct {
	CustomerID string
	Status     *domain.OrderStatus
	StartAfter string
	Limit      int
}

// OrderTotalService calculates the ordered money breakdown for a cart.
type OrderTotalService interface {
	CalculateTotals(ctx context.Context, cart domain.ShoppingCart, store domain.MerchantStore, shipping *domain.ShippingSummary) (OrderTotalSummary, error)
}

// CallbackResult is the outcome of reconciling a redirect-provider callback.
type CallbackResult struct {
	OrderID     string
	Success     bool
	Replayed    bool
	RedirectURL string
}

// CallbackService reconciles redirect-provider callbacks against pending
// ledger entries.
type CallbackService interface {
	ProcessCallback(ctx context.Context, fields map[string]string) (CallbackResult, error)
}

// OrderNotification describes a customer-facing message queued after a
// successful workflow step.
type OrderNotification struct {
	OrderID     string
	OrderNumber string
	StoreCode   string
	Recipient   string
	Subject     string
	Body        string
	QueuedAt    time.Time
}

// NotificationService queues customer notifications without blocking the
// calling workflow. Delivery failures are logged, never propagated.
type NotificationService interface {
	QueueOrderConfirmation(ctx context.Context, order domain.Order, store domain.MerchantStore)
	QueueStatusChange(ctx context.Context, order domain.Order, store domain.MerchantStore, status domain.OrderStatus)
	Close(ctx context.Context) error
}

// EmailSender delivers a single notification. Implementations wrap the
// surrounding platform's mail transport.
type EmailSender interface {
	Send(ctx context.Context, notification OrderNotification) error
}

// ValidationError aggregates every missing or malformed field found while
// validating a command, so the caller can surface them all at once.
type ValidationError struct {
	Fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "order: validation failed"
	}
	return "order: validation failed: " + strings.Join(e.Fields, ", ")
}
