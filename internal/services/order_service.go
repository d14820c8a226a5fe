package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/platform/idempotency"
	"github.com/commercekit/storefront/internal/repositories"
)

const (
	commitIdempotencyTTL = 24 * time.Hour

	orderCreatedComment = "Order created"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderConflict indicates a concurrent modification prevented the operation.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCartAlreadyOrdered indicates the cart has already been converted to an order.
	ErrCartAlreadyOrdered = errors.New("order: cart already ordered")
	// ErrAmountMismatch indicates the submitted total does not match the calculated total.
	ErrAmountMismatch = errors.New("order: submitted amount does not match calculated total")
	// ErrInvalidStatusTransition indicates the requested status change is not allowed.
	ErrInvalidStatusTransition = errors.New("order: invalid status transition")
	// ErrCommitInProgress indicates another request holding the same idempotency key is still running.
	ErrCommitInProgress = errors.New("order: commit already in progress")
)

// paymentManager abstracts payments.Manager for easier testing.
type paymentManager interface {
	Resolve(moduleCode string) (payments.Provider, error)
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Registry      repositories.Registry
	Totals        OrderTotalService
	Payments      paymentManager
	Configs       payments.ConfigResolver
	Notifications NotificationService
	Idempotency   idempotency.Store
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	registry      repositories.Registry
	totals        OrderTotalService
	payments      paymentManager
	configs       payments.ConfigResolver
	notifications NotificationService
	idempotency   idempotency.Store
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)

	committedCounter metric.Int64Counter
	declinedCounter  metric.Int64Counter
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Registry == nil {
		return nil, errors.New("order service: repository registry is required")
	}
	if deps.Totals == nil {
		return nil, errors.New("order service: totals service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment manager is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("order service: payment config resolver is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := otel.Meter("github.com/commercekit/storefront/internal/services")
	committed, err := meter.Int64Counter("orders.committed",
		metric.WithDescription("Orders successfully committed"))
	if err != nil {
		return nil, fmt.Errorf("order service: register committed counter: %w", err)
	}
	declined, err := meter.Int64Counter("payments.declined",
		metric.WithDescription("Payment attempts declined by the provider"))
	if err != nil {
		return nil, fmt.Errorf("order service: register declined counter: %w", err)
	}

	return &orderService{
		registry:      deps.Registry,
		totals:        deps.Totals,
		payments:      deps.Payments,
		configs:       deps.Configs,
		notifications: deps.Notifications,
		idempotency:   deps.Idempotency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:           logger,
		committedCounter: committed,
		declinedCounter:  declined,
	}, nil
}

// CommitOrder runs the full checkout workflow: validate, price, charge,
// persist atomically, then queue the confirmation without blocking.
func (s *orderService) CommitOrder(ctx context.Context, cmd CommitOrderCommand) (domain.Order, error) {
	if s == nil || s.registry == nil {
		return domain.Order{}, ErrOrderUnavailable
	}

	ctx, span := startSpan(ctx, "OrderService.CommitOrder",
		attribute.String("store.code", strings.TrimSpace(cmd.StoreCode)),
		attribute.String("cart.code", strings.TrimSpace(cmd.CartCode)))
	defer span.End()

	if err := validateCommitCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	idemKey := strings.TrimSpace(cmd.IdempotencyKey)
	fingerprint := idempotency.Fingerprint(cmd.StoreCode, cmd.CartCode, cmd.SubmittedTotal, cmd.Payment.ModuleName)
	if idemKey != "" && s.idempotency != nil {
		reservation, err := s.idempotency.Reserve(ctx, idemKey, fingerprint, s.now(), commitIdempotencyTTL)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidInput, err)
		}
		switch reservation.State {
		case idempotency.ReservationStateCompleted:
			s.logger(ctx, "order.commit.replayed", map[string]any{
				"orderId": reservation.Record.Result.Reference,
			})
			return s.GetOrder(ctx, reservation.Record.Result.Reference)
		case idempotency.ReservationStatePending:
			return domain.Order{}, ErrCommitInProgress
		}
	}

	order, err := s.commitOrder(ctx, cmd)
	if err != nil {
		if idemKey != "" && s.idempotency != nil {
			_ = s.idempotency.Release(ctx, idemKey, fingerprint)
		}
		return domain.Order{}, err
	}

	if idemKey != "" && s.idempotency != nil {
		if saveErr := s.idempotency.SaveResult(ctx, idemKey, fingerprint,
			idempotency.Result{Reference: order.ID}, s.now(), commitIdempotencyTTL); saveErr != nil {
			s.logger(ctx, "order.commit.idempotency_save_failed", map[string]any{
				"orderId": order.ID,
				"error":   saveErr.Error(),
			})
		}
	}

	return order, nil
}

func (s *orderService) commitOrder(ctx context.Context, cmd CommitOrderCommand) (domain.Order, error) {
	cartCode := strings.TrimSpace(cmd.CartCode)
	cart, err := s.registry.Carts().FindByCode(ctx, cartCode)
	if err != nil {
		return domain.Order{}, s.translateRepositoryError(err)
	}
	if strings.TrimSpace(cart.OrderID) != "" {
		return domain.Order{}, ErrCartAlreadyOrdered
	}
	if cart.RequiresShipping() && cmd.Shipping == nil {
		return domain.Order{}, &ValidationError{Fields: []string{"shipping"}}
	}

	store, err := s.registry.Stores().FindByCode(ctx, strings.TrimSpace(cmd.StoreCode))
	if err != nil {
		return domain.Order{}, s.translateRepositoryError(err)
	}

	summary, err := s.totals.CalculateTotals(ctx, cart, store, cmd.Shipping)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			return domain.Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		}
		return domain.Order{}, err
	}

	// An expired promo earns no discount and is stripped from the cart right
	// away, so later recalculations start from the same state.
	if summary.PromoExpired {
		expiredCode := cart.PromoCode
		cart.PromoCode = ""
		cart.PromoAdded = time.Time{}
		saved, err := s.registry.Carts().Save(ctx, cart)
		if err != nil {
			return domain.Order{}, s.translateRepositoryError(err)
		}
		cart = saved
		s.logger(ctx, "order.commit.promo_cleared", map[string]any{
			"cartCode": cart.Code,
			"promo":    expiredCode,
		})
	}

	// The shopper confirms a formatted amount string; the comparison happens
	// on that string, not on the decimal, so display rounding can never let a
	// mismatched amount through.
	calculated := domain.FormatAmount(summary.Total)
	if normalizeAmount(cmd.SubmittedTotal) != calculated {
		s.logger(ctx, "order.commit.amount_mismatch", map[string]any{
			"cartCode":   cart.Code,
			"submitted":  cmd.SubmittedTotal,
			"calculated": calculated,
		})
		return domain.Order{}, fmt.Errorf("%w: submitted %q, calculated %q", ErrAmountMismatch, strings.TrimSpace(cmd.SubmittedTotal), calculated)
	}

	transaction, err := s.processPayment(ctx, store, cmd, cart, summary.Total)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		StoreCode:         store.Code,
		Status:            domain.OrderStatusOrdered,
		CurrencyCode:      store.CurrencyCode,
		Total:             summary.Total,
		DatePurchased:     now,
		CustomerID:        cmd.Customer.ID,
		CustomerEmail:     cmd.Customer.Email,
		Billing:           cmd.Customer.Billing,
		Delivery:          cmd.Customer.Delivery,
		PaymentType:       cmd.Payment.PaymentType,
		PaymentModuleCode: cmd.Payment.ModuleName,
		CartCode:          cart.Code,
		LineItems:         orderLineItems(cart.Items),
		Totals:            summary.Totals,
	}
	if cmd.Shipping != nil {
		order.ShippingModuleCode = cmd.Shipping.ShippingModule
	}
	if cmd.CreditCard != nil {
		order.CreditCard = &domain.CreditCard{
			CardType:     cmd.CreditCard.CardType,
			MaskedNumber: maskCardNumber(cmd.CreditCard.CardNumber),
			Owner:        cmd.CreditCard.CardOwner,
			Expires:      fmt.Sprintf("%s/%s", cmd.CreditCard.ExpirationMonth, cmd.CreditCard.ExpirationYear),
		}
	}

	var committed domain.Order
	err = s.registry.RunInTx(ctx, func(ctx context.Context) error {
		inserted, err := s.registry.Orders().Insert(ctx, order)
		if err != nil {
			return err
		}

		if err := s.registry.Orders().AppendStatusHistory(ctx, inserted.ID, domain.OrderStatusHistory{
			Status:    domain.OrderStatusOrdered,
			Comments:  orderCreatedComment,
			DateAdded: now,
		}); err != nil {
			return err
		}

		if transaction != nil {
			transaction.OrderID = inserted.ID
			if _, err := s.registry.Transactions().Append(ctx, *transaction); err != nil {
				return err
			}
		}

		cart.OrderID = inserted.ID
		if _, err := s.registry.Carts().Save(ctx, cart); err != nil {
			return err
		}

		committed = inserted
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateRepositoryError(err)
	}

	s.committedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store.code", store.Code),
		attribute.String("payment.module", cmd.Payment.ModuleName)))
	s.logger(ctx, "order.committed", map[string]any{
		"orderId":   committed.ID,
		"storeCode": store.Code,
		"total":     calculated,
	})

	if s.notifications != nil {
		s.notifications.QueueOrderConfirmation(ctx, committed, store)
	}

	return committed, nil
}

// processPayment dispatches the gateway call matching the requested
// transaction type. Offline payment types produce no ledger entry.
func (s *orderService) processPayment(ctx context.Context, store domain.MerchantStore, cmd CommitOrderCommand, cart domain.ShoppingCart, total decimal.Decimal) (*domain.Transaction, error) {
	switch cmd.Payment.PaymentType {
	case domain.PaymentTypeMoneyOrder, domain.PaymentTypeCOD, domain.PaymentTypeFree:
		return nil, nil
	}

	provider, err := s.payments.Resolve(cmd.Payment.ModuleName)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported payment module %q", ErrOrderInvalidInput, cmd.Payment.ModuleName)
	}

	cfg, err := s.configs.PaymentConfiguration(ctx, store.Code, cmd.Payment.ModuleName)
	if err != nil {
		return nil, fmt.Errorf("order: resolve payment configuration: %w", err)
	}
	if err := provider.ValidateConfiguration(cfg, store); err != nil {
		return nil, err
	}

	payment := cmd.Payment
	payment.Amount = total
	payment.CurrencyCode = store.CurrencyCode
	if cmd.CreditCard != nil {
		payment = cmd.CreditCard.Payment
		payment.Amount = total
		payment.CurrencyCode = store.CurrencyCode
	}

	var transaction domain.Transaction
	switch cmd.Payment.TransactionType {
	case domain.TransactionTypeAuthorize:
		transaction, err = provider.Authorize(ctx, store, cmd.Customer, cart.Items, total, payment, cfg)
	case domain.TransactionTypeAuthorizeCapture:
		transaction, err = provider.AuthorizeAndCapture(ctx, domain.Order{CartCode: cart.Code}, store, cmd.Customer, cart.Items, total, payment, cfg)
	case domain.TransactionTypeInit:
		transaction, err = provider.InitTransaction(ctx, store, cmd.Customer, total, payment, cfg)
	default:
		return nil, fmt.Errorf("%w: transaction type %s cannot start a commit", ErrOrderInvalidInput, cmd.Payment.TransactionType)
	}
	if err != nil {
		var paymentErr *payments.Error
		if errors.As(err, &paymentErr) && paymentErr.Kind == payments.KindDeclined {
			s.declinedCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("payment.module", cmd.Payment.ModuleName)))
		}
		return nil, err
	}
	return &transaction, nil
}

// CaptureOrder collects a previously authorized payment and marks the order processed.
func (s *orderService) CaptureOrder(ctx context.Context, storeCode, orderID string) (domain.Transaction, error) {
	if s == nil || s.registry == nil {
		return domain.Transaction{}, ErrOrderUnavailable
	}

	ctx, span := startSpan(ctx, "OrderService.CaptureOrder",
		attribute.String("order.id", orderID))
	defer span.End()

	order, err := s.registry.Orders().FindByID(ctx, orderID)
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}
	store, err := s.registry.Stores().FindByCode(ctx, strings.TrimSpace(storeCode))
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	capturable, err := s.registry.Transactions().CapturableByOrder(ctx, orderID)
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	provider, err := s.payments.Resolve(order.PaymentModuleCode)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: unsupported payment module %q", ErrOrderInvalidInput, order.PaymentModuleCode)
	}
	cfg, err := s.configs.PaymentConfiguration(ctx, store.Code, order.PaymentModuleCode)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("order: resolve payment configuration: %w", err)
	}

	customer := domain.Customer{ID: order.CustomerID, Email: order.CustomerEmail}
	captured, err := provider.Capture(ctx, store, customer, order, capturable, cfg)
	if err != nil {
		return domain.Transaction{}, err
	}
	captured.OrderID = orderID

	err = s.registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.registry.Transactions().Append(ctx, captured); err != nil {
			return err
		}
		return s.transitionOrder(ctx, order, domain.OrderStatusProcessed, "Payment captured", false)
	})
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	s.logger(ctx, "order.captured", map[string]any{
		"orderId": orderID,
		"amount":  domain.FormatAmount(captured.Amount),
	})
	if s.notifications != nil {
		s.notifications.QueueStatusChange(ctx, order, store, domain.OrderStatusProcessed)
	}
	return captured, nil
}

// RefundOrder returns captured funds and marks the order refunded.
func (s *orderService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (domain.Transaction, error) {
	if s == nil || s.registry == nil {
		return domain.Transaction{}, ErrOrderUnavailable
	}

	ctx, span := startSpan(ctx, "OrderService.RefundOrder",
		attribute.String("order.id", cmd.OrderID))
	defer span.End()

	order, err := s.registry.Orders().FindByID(ctx, cmd.OrderID)
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}
	store, err := s.registry.Stores().FindByCode(ctx, strings.TrimSpace(cmd.StoreCode))
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	next, err := s.NextTransaction(ctx, cmd.OrderID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if next != domain.TransactionTypeRefund {
		return domain.Transaction{}, fmt.Errorf("%w: order is not refundable", ErrOrderInvalidInput)
	}

	amount := cmd.Amount
	if !cmd.Partial || amount.IsZero() {
		amount = order.Total
	}
	if amount.GreaterThan(order.Total) || !amount.IsPositive() {
		return domain.Transaction{}, fmt.Errorf("%w: invalid refund amount", ErrOrderInvalidInput)
	}

	settled, err := s.registry.Transactions().LastByOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	provider, err := s.payments.Resolve(order.PaymentModuleCode)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: unsupported payment module %q", ErrOrderInvalidInput, order.PaymentModuleCode)
	}
	cfg, err := s.configs.PaymentConfiguration(ctx, store.Code, order.PaymentModuleCode)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("order: resolve payment configuration: %w", err)
	}

	refunded, err := provider.Refund(ctx, cmd.Partial, store, settled, order, amount, cfg)
	if err != nil {
		return domain.Transaction{}, err
	}
	refunded.OrderID = cmd.OrderID

	err = s.registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.registry.Transactions().Append(ctx, refunded); err != nil {
			return err
		}
		return s.transitionOrder(ctx, order, domain.OrderStatusRefunded, "Payment refunded", false)
	})
	if err != nil {
		return domain.Transaction{}, s.translateRepositoryError(err)
	}

	s.logger(ctx, "order.refunded", map[string]any{
		"orderId": cmd.OrderID,
		"amount":  domain.FormatAmount(amount),
		"partial": cmd.Partial,
	})
	if s.notifications != nil {
		s.notifications.QueueStatusChange(ctx, order, store, domain.OrderStatusRefunded)
	}
	return refunded, nil
}

// UpdateOrderStatus moves the order through its lifecycle, enforcing the
// transition table and appending an immutable history entry.
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) error {
	if s == nil || s.registry == nil {
		return ErrOrderUnavailable
	}

	order, err := s.registry.Orders().FindByID(ctx, cmd.OrderID)
	if err != nil {
		return s.translateRepositoryError(err)
	}

	err = s.registry.RunInTx(ctx, func(ctx context.Context) error {
		return s.transitionOrder(ctx, order, cmd.Status, cmd.Comments, cmd.NotifyCustomer)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) {
			return err
		}
		return s.translateRepositoryError(err)
	}

	if cmd.NotifyCustomer && s.notifications != nil {
		if store, storeErr := s.registry.Stores().FindByCode(ctx, strings.TrimSpace(cmd.StoreCode)); storeErr == nil {
			s.notifications.QueueStatusChange(ctx, order, store, cmd.Status)
		}
	}
	return nil
}

// orderStatusTransitions is the allowed lifecycle graph. Terminal states have
// no outgoing edges.
var orderStatusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusOrdered:   {domain.OrderStatusProcessed, domain.OrderStatusCanceled},
	domain.OrderStatusProcessed: {domain.OrderStatusShipped, domain.OrderStatusRefunded, domain.OrderStatusCanceled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered: {domain.OrderStatusRefunded},
}

func statusTransitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *orderService) transitionOrder(ctx context.Context, order domain.Order, status domain.OrderStatus, comments string, notified bool) error {
	// Re-requesting the current status is a no-op, not an error.
	if order.Status == status {
		return nil
	}
	if !statusTransitionAllowed(order.Status, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, order.Status, status)
	}

	current, err := s.registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		return err
	}
	current.Status = status
	if _, err := s.registry.Orders().Update(ctx, current); err != nil {
		return err
	}
	entry := fmt.Sprintf("Status changed from %s to %s", order.Status, status)
	if strings.TrimSpace(comments) != "" {
		entry = fmt.Sprintf("%s: %s", entry, comments)
	}
	return s.registry.Orders().AppendStatusHistory(ctx, order.ID, domain.OrderStatusHistory{
		Status:           status,
		Comments:         entry,
		CustomerNotified: notified,
		DateAdded:        s.now(),
	})
}

// NextTransaction reports the only payment operation the ledger permits next.
func (s *orderService) NextTransaction(ctx context.Context, orderID string) (domain.TransactionType, error) {
	if s == nil || s.registry == nil {
		return "", ErrOrderUnavailable
	}

	last, err := s.registry.Transactions().LastByOrder(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.TransactionTypeOK, nil
		}
		return "", s.translateRepositoryError(err)
	}

	switch last.TransactionType {
	case domain.TransactionTypeAuthorize:
		return domain.TransactionTypeCapture, nil
	case domain.TransactionTypeAuthorizeCapture, domain.TransactionTypeCapture:
		return domain.TransactionTypeRefund, nil
	default:
		return domain.TransactionTypeOK, nil
	}
}

// GetOrder returns the stored order.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s == nil || s.registry == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	order, err := s.registry.Orders().FindByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, s.translateRepositoryError(err)
	}
	return order, nil
}

// ListOrders returns a page of the customer's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error) {
	if s == nil || s.registry == nil {
		return nil, ErrOrderUnavailable
	}
	customerID := strings.TrimSpace(query.CustomerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id required", ErrOrderInvalidInput)
	}
	orders, err := s.registry.Orders().ListByCustomer(ctx, customerID, repositories.OrderListFilter{
		Status:     query.Status,
		StartAfter: strings.TrimSpace(query.StartAfter),
		Limit:      query.Limit,
	})
	if err != nil {
		return nil, s.translateRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) translateRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, repoErr.Error())
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, repoErr.Error())
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s", ErrOrderUnavailable, repoErr.Error())
		}
	}
	return err
}

// validateCommitCommand collects every invalid field before failing, so the
// shopper sees the complete list in one round-trip.
func validateCommitCommand(cmd CommitOrderCommand) error {
	var fields []string

	if strings.TrimSpace(cmd.StoreCode) == "" {
		fields = append(fields, "store")
	}
	if strings.TrimSpace(cmd.CartCode) == "" {
		fields = append(fields, "cart")
	}
	if strings.TrimSpace(cmd.SubmittedTotal) == "" {
		fields = append(fields, "paymentAmount")
	}

	billing := cmd.Customer.Billing
	if strings.TrimSpace(billing.FirstName) == "" {
		fields = append(fields, "firstName")
	}
	if strings.TrimSpace(billing.LastName) == "" {
		fields = append(fields, "lastName")
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		fields = append(fields, "email")
	}
	if strings.TrimSpace(billing.StreetAddress) == "" {
		fields = append(fields, "address")
	}
	if strings.TrimSpace(billing.City) == "" {
		fields = append(fields, "city")
	}
	if strings.TrimSpace(billing.Country) == "" {
		fields = append(fields, "country")
	}
	if strings.TrimSpace(billing.Zone) == "" && strings.TrimSpace(billing.StateProvince) == "" {
		fields = append(fields, "zone")
	}
	if strings.TrimSpace(billing.PostalCode) == "" {
		fields = append(fields, "postalCode")
	}
	if strings.TrimSpace(billing.Phone) == "" {
		fields = append(fields, "phone")
	}

	if _, ok := domain.ParsePaymentType(string(cmd.Payment.PaymentType)); !ok {
		fields = append(fields, "paymentType")
	}
	if cmd.Payment.PaymentType == domain.PaymentTypeCreditCard {
		if cmd.CreditCard == nil {
			fields = append(fields, "creditCard")
		} else {
			if strings.TrimSpace(cmd.CreditCard.CardOwner) == "" {
				fields = append(fields, "cardOwner")
			}
			if strings.TrimSpace(cmd.CreditCard.CardNumber) == "" {
				fields = append(fields, "cardNumber")
			}
			if strings.TrimSpace(cmd.CreditCard.ValidationNumber) == "" {
				fields = append(fields, "cardCvv")
			}
			if _, ok := domain.ParseCreditCardType(string(cmd.CreditCard.CardType)); !ok {
				fields = append(fields, "cardType")
			}
			if strings.TrimSpace(cmd.CreditCard.ExpirationMonth) == "" || strings.TrimSpace(cmd.CreditCard.ExpirationYear) == "" {
				fields = append(fields, "cardExpiry")
			}
		}
	}

	// Delivery may mirror billing; when a distinct destination is supplied it
	// must be complete enough to ship to.
	if delivery := cmd.Customer.Delivery; delivery != (domain.Address{}) && delivery != cmd.Customer.Billing {
		if strings.TrimSpace(delivery.FirstName) == "" {
			fields = append(fields, "deliveryFirstName")
		}
		if strings.TrimSpace(delivery.LastName) == "" {
			fields = append(fields, "deliveryLastName")
		}
		if strings.TrimSpace(delivery.StreetAddress) == "" {
			fields = append(fields, "deliveryAddress")
		}
		if strings.TrimSpace(delivery.City) == "" {
			fields = append(fields, "deliveryCity")
		}
		if strings.TrimSpace(delivery.Country) == "" {
			fields = append(fields, "deliveryCountry")
		}
		if strings.TrimSpace(delivery.Zone) == "" && strings.TrimSpace(delivery.StateProvince) == "" {
			fields = append(fields, "deliveryZone")
		}
		if strings.TrimSpace(delivery.PostalCode) == "" {
			fields = append(fields, "deliveryPostalCode")
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// normalizeAmount strips whitespace and currency prefixes from a submitted
// amount string so it can be compared to the server-side formatted total.
func normalizeAmount(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "$")
	return strings.TrimSpace(value)
}

func orderLineItems(items []domain.CartItem) []domain.OrderLineItem {
	lines := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.OrderLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			ItemPrice: item.ItemPrice,
		})
	}
	return lines
}

// maskCardNumber retains only the last four digits for the audit copy.
func maskCardNumber(number string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("X", len(digits)-4) + digits[len(digits)-4:]
}
