package memory

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/repositories"
)

// CustomerRepository stores purchasing identities keyed by customer ID.
type CustomerRepository struct {
	registry  *Registry
	customers map[string]domain.Customer
	saved     map[string]domain.Customer
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func newCustomerRepository(registry *Registry) *CustomerRepository {
	return &CustomerRepository{
		registry:  registry,
		customers: map[string]domain.Customer{},
	}
}

// FindByID returns the stored customer.
func (r *CustomerRepository) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	if r == nil || r.registry == nil {
		return domain.Customer{}, conflictError("customer repository: not initialised")
	}
	defer r.registry.lock()()

	customer, exists := r.customers[customerID]
	if !exists {
		return domain.Customer{}, notFoundError("customer repository: customer %s not found", customerID)
	}
	return customer, nil
}

// Save persists the customer, assigning an ID when absent.
func (r *CustomerRepository) Save(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	if r == nil || r.registry == nil {
		return domain.Customer{}, conflictError("customer repository: not initialised")
	}
	defer r.registry.lock()()

	if strings.TrimSpace(customer.ID) == "" {
		customer.ID = ulid.Make().String()
	}
	r.customers[customer.ID] = customer
	return customer, nil
}

func (r *CustomerRepository) snapshot() {
	r.saved = make(map[string]domain.Customer, len(r.customers))
	for id, customer := range r.customers {
		r.saved[id] = customer
	}
}

func (r *CustomerRepository) restore() {
	if r.saved != nil {
		r.customers = r.saved
		r.saved = nil
	}
}

func (r *CustomerRepository) discard() { r.saved = nil }
