package memory

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/repositories"
)

// CartRepository stores shopping carts keyed by cart code with optimistic
// locking on Version.
type CartRepository struct {
	registry *Registry
	carts    map[string]domain.ShoppingCart
	saved    map[string]domain.ShoppingCart
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func newCartRepository(registry *Registry) *CartRepository {
	return &CartRepository{
		registry: registry,
		carts:    map[string]domain.ShoppingCart{},
	}
}

// FindByCode returns the cart stored under code.
func (r *CartRepository) FindByCode(_ context.Context, code string) (domain.ShoppingCart, error) {
	if r == nil || r.registry == nil {
		return domain.ShoppingCart{}, conflictError("cart repository: not initialised")
	}
	defer r.registry.lock()()

	cart, exists := r.carts[code]
	if !exists {
		return domain.ShoppingCart{}, notFoundError("cart repository: cart %s not found", code)
	}
	return cloneCart(cart), nil
}

// Save persists the cart, rejecting stale versions. New carts get an ID and
// start at version one.
func (r *CartRepository) Save(_ context.Context, cart domain.ShoppingCart) (domain.ShoppingCart, error) {
	if r == nil || r.registry == nil {
		return domain.ShoppingCart{}, conflictError("cart repository: not initialised")
	}
	if strings.TrimSpace(cart.Code) == "" {
		return domain.ShoppingCart{}, conflictError("cart repository: cart code is required")
	}
	defer r.registry.lock()()

	current, exists := r.carts[cart.Code]
	if exists && current.Version != cart.Version {
		return domain.ShoppingCart{}, conflictError("cart repository: cart %s version %d is stale", cart.Code, cart.Version)
	}
	if !exists && strings.TrimSpace(cart.ID) == "" {
		cart.ID = ulid.Make().String()
	}
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	r.carts[cart.Code] = cloneCart(cart)
	return cart, nil
}

func (r *CartRepository) snapshot() {
	r.saved = make(map[string]domain.ShoppingCart, len(r.carts))
	for code, cart := range r.carts {
		r.saved[code] = cloneCart(cart)
	}
}

func (r *CartRepository) restore() {
	if r.saved != nil {
		r.carts = r.saved
		r.saved = nil
	}
}

func (r *CartRepository) discard() { r.saved = nil }

func cloneCart(cart domain.ShoppingCart) domain.ShoppingCart {
	copied := cart
	copied.Items = append([]domain.CartItem(nil), cart.Items...)
	return copied
}
