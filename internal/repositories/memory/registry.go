// Package memory provides in-process implementations of the repository
// contracts, used as the default storage backend and in tests. All
// repositories hang off a single Registry whose transaction mutex gives
// RunInTx a serialised, snapshot-rollback boundary.
package memory

import (
	"context"
	"sync"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/repositories"
)

// Registry bundles the in-memory repositories behind the repositories.Registry contract.
type Registry struct {
	mu   sync.Mutex
	txMu sync.Mutex

	orders       *OrderRepository
	transactions *TransactionRepository
	carts        *CartRepository
	customers    *CustomerRepository
	stores       *StoreRepository

	inTx bool
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.orders = newOrderRepository(r)
	r.transactions = newTransactionRepository(r)
	r.carts = newCartRepository(r)
	r.customers = newCustomerRepository(r)
	r.stores = newStoreRepository(r)
	return r
}

// Close releases nothing; the registry holds no external resources.
func (r *Registry) Close(context.Context) error { return nil }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Transactions returns the payment ledger repository.
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }

// Carts returns the shopping cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Customers returns the customer repository.
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Stores returns the merchant store repository.
func (r *Registry) Stores() repositories.StoreRepository { return r.stores }

// SeedStore registers merchant store reference data at startup.
func (r *Registry) SeedStore(store domain.MerchantStore) { r.stores.Seed(store) }

// RunInTx serialises fn against concurrent transactions and rolls every
// mutable store back to its pre-transaction snapshot when fn returns an
// error. A nested call from within an open transaction joins it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil {
		return conflictError("registry: not initialised")
	}

	r.mu.Lock()
	joined := r.inTx
	r.mu.Unlock()
	if joined {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshots := []interface {
		snapshot()
		restore()
		discard()
	}{r.orders, r.transactions, r.carts, r.customers}

	r.mu.Lock()
	r.inTx = true
	for _, s := range snapshots {
		s.snapshot()
	}
	r.mu.Unlock()

	err := fn(ctx)

	r.mu.Lock()
	for _, s := range snapshots {
		if err != nil {
			s.restore()
		} else {
			s.discard()
		}
	}
	r.inTx = false
	r.mu.Unlock()
	return err
}

// lock serialises direct repository access.
func (r *Registry) lock() func() {
	r.mu.Lock()
	return r.mu.Unlock
}
