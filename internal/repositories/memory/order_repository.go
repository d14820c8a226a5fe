package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/repositories"
)

// OrderRepository stores committed orders keyed by order ID with optimistic
// locking on Version.
type OrderRepository struct {
	registry *Registry
	orders   map[string]domain.Order
	saved    map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func newOrderRepository(registry *Registry) *OrderRepository {
	return &OrderRepository{
		registry: registry,
		orders:   map[string]domain.Order{},
	}
}

// Insert persists a new order, assigning its ID and order number when absent.
func (r *OrderRepository) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.registry == nil {
		return domain.Order{}, conflictError("order repository: not initialised")
	}
	defer r.registry.lock()()

	if strings.TrimSpace(order.ID) == "" {
		order.ID = ulid.Make().String()
	}
	if _, exists := r.orders[order.ID]; exists {
		return domain.Order{}, conflictError("order repository: order %s already exists", order.ID)
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		order.OrderNumber = order.ID
	}
	order.Version = 1
	r.orders[order.ID] = cloneOrder(order)
	return order, nil
}

// Update persists an existing order, rejecting stale versions.
func (r *OrderRepository) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.registry == nil {
		return domain.Order{}, conflictError("order repository: not initialised")
	}
	defer r.registry.lock()()

	current, exists := r.orders[order.ID]
	if !exists {
		return domain.Order{}, notFoundError("order repository: order %s not found", order.ID)
	}
	if current.Version != order.Version {
		return domain.Order{}, conflictError("order repository: order %s version %d is stale", order.ID, order.Version)
	}
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	return order, nil
}

// FindByID returns the stored order.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.registry == nil {
		return domain.Order{}, conflictError("order repository: not initialised")
	}
	defer r.registry.lock()()

	order, exists := r.orders[orderID]
	if !exists {
		return domain.Order{}, notFoundError("order repository: order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

// AppendStatusHistory adds an immutable audit entry to the order. History is
// append-only; existing entries are never rewritten.
func (r *OrderRepository) AppendStatusHistory(_ context.Context, orderID string, entry domain.OrderStatusHistory) error {
	if r == nil || r.registry == nil {
		return conflictError("order repository: not initialised")
	}
	defer r.registry.lock()()

	order, exists := r.orders[orderID]
	if !exists {
		return notFoundError("order repository: order %s not found", orderID)
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = ulid.Make().String()
	}
	entry.OrderID = orderID
	order.History = append(order.History, entry)
	r.orders[orderID] = order
	return nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(_ context.Context, customerID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.registry == nil {
		return nil, conflictError("order repository: not initialised")
	}
	defer r.registry.lock()()

	var matched []domain.Order
	for _, order := range r.orders {
		if order.CustomerID != customerID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if filter.From != nil && order.DatePurchased.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !order.DatePurchased.Before(*filter.To) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DatePurchased.After(matched[j].DatePurchased)
	})
	if filter.StartAfter != "" {
		for i, order := range matched {
			if order.ID == filter.StartAfter {
				matched = matched[i+1:]
				break
			}
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *OrderRepository) snapshot() {
	r.saved = make(map[string]domain.Order, len(r.orders))
	for id, order := range r.orders {
		r.saved[id] = cloneOrder(order)
	}
}

func (r *OrderRepository) restore() {
	if r.saved != nil {
		r.orders = r.saved
		r.saved = nil
	}
}

func (r *OrderRepository) discard() { r.saved = nil }

func cloneOrder(order domain.Order) domain.Order {
	copied := order
	copied.LineItems = append([]domain.OrderLineItem(nil), order.LineItems...)
	copied.Totals = append([]domain.OrderTotal(nil), order.Totals...)
	copied.History = append([]domain.OrderStatusHistory(nil), order.History...)
	if order.CreditCard != nil {
		card := *order.CreditCard
		copied.CreditCard = &card
	}
	return copied
}
