package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/repositories"
)

// StoreRepository resolves merchant stores by code. Stores are seeded at
// startup and treated as read-only reference data, so they sit outside the
// transactional snapshot cycle.
type StoreRepository struct {
	mu     sync.RWMutex
	stores map[string]domain.MerchantStore
}

var _ repositories.StoreRepository = (*StoreRepository)(nil)

func newStoreRepository(*Registry) *StoreRepository {
	return &StoreRepository{stores: map[string]domain.MerchantStore{}}
}

// Seed registers a merchant store.
func (r *StoreRepository) Seed(store domain.MerchantStore) {
	if r == nil || strings.TrimSpace(store.Code) == "" {
		return
	}
	r.mu.Lock()
	r.stores[store.Code] = store
	r.mu.Unlock()
}

// FindByCode returns the merchant store registered under code.
func (r *StoreRepository) FindByCode(_ context.Context, code string) (domain.MerchantStore, error) {
	if r == nil {
		return domain.MerchantStore{}, conflictError("store repository: not initialised")
	}
	r.mu.RLock()
	store, exists := r.stores[code]
	r.mu.RUnlock()
	if !exists {
		return domain.MerchantStore{}, notFoundError("store repository: store %s not found", code)
	}
	return store, nil
}
