package repositories

import (
	"context"
	"time"

	domain "github.com/commercekit/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Transactions() TransactionRepository
	Carts() CartRepository
	Customers() CustomerRepository
	Stores() StoreRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists committed orders with optimistic locking on Version.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	AppendStatusHistory(ctx context.Context, orderID string, entry domain.OrderStatusHistory) error
	ListByCustomer(ctx context.Context, customerID string, filter OrderListFilter) ([]domain.Order, error)
}

// OrderListFilter narrows customer order listings.
type OrderListFilter struct {
	Status *domain.OrderStatus
	From   *time.Time
	To     *time.Time
	// StartAfter resumes a paginated listing after the order with this id.
	StartAfter string
	Limit      int
}

// TransactionRepository is the append-only payment ledger. Entries are never
// updated in place or deleted; corrections are new entries.
type TransactionRepository interface {
	Append(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
	LastByOrder(ctx context.Context, orderID string) (domain.Transaction, error)

	// CapturableByOrder returns the most recent AUTHORIZE entry that has no
	// subsequent CAPTURE or REFUND superseding it.
	CapturableByOrder(ctx context.Context, orderID string) (domain.Transaction, error)

	// PendingByOrder returns the AUTHORIZECAPTURE entry awaiting a redirect
	// callback, identified by its pending provider status detail.
	PendingByOrder(ctx context.Context, orderID string) (domain.Transaction, error)
}

// CartRepository owns shopping cart persistence with optimistic locking on Version.
type CartRepository interface {
	FindByCode(ctx context.Context, code string) (domain.ShoppingCart, error)
	Save(ctx context.Context, cart domain.ShoppingCart) (domain.ShoppingCart, error)
}

// CustomerRepository resolves purchasing identities captured by the web layer.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	Save(ctx context.Context, customer domain.Customer) (domain.Customer, error)
}

// StoreRepository resolves merchant store context by store code.
type StoreRepository interface {
	FindByCode(ctx context.Context, code string) (domain.MerchantStore, error)
}
