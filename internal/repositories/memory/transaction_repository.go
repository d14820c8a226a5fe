package memory

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/repositories"
)

// TransactionRepository is the append-only in-memory payment ledger. Entries
// are stored in arrival order per order and handed out as copies so callers
// can never mutate the ledger in place.
type TransactionRepository struct {
	registry *Registry
	byOrder  map[string][]domain.Transaction
	saved    map[string][]domain.Transaction
}

var _ repositories.TransactionRepository = (*TransactionRepository)(nil)

func newTransactionRepository(registry *Registry) *TransactionRepository {
	return &TransactionRepository{
		registry: registry,
		byOrder:  map[string][]domain.Transaction{},
	}
}

// Append adds a ledger entry, assigning its ID when absent. The entry must be
// bound to an order.
func (r *TransactionRepository) Append(_ context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	if r == nil || r.registry == nil {
		return domain.Transaction{}, conflictError("transaction repository: not initialised")
	}
	defer r.registry.lock()()

	if strings.TrimSpace(transaction.OrderID) == "" {
		return domain.Transaction{}, conflictError("transaction repository: entry is not bound to an order")
	}
	if strings.TrimSpace(transaction.ID) == "" {
		transaction.ID = ulid.Make().String()
	}
	transaction.Details = transaction.CloneDetails()
	r.byOrder[transaction.OrderID] = append(r.byOrder[transaction.OrderID], transaction)
	return cloneTransaction(transaction), nil
}

// ListByOrder returns the order's ledger in arrival order.
func (r *TransactionRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	if r == nil || r.registry == nil {
		return nil, conflictError("transaction repository: not initialised")
	}
	defer r.registry.lock()()

	entries := r.byOrder[orderID]
	listed := make([]domain.Transaction, 0, len(entries))
	for _, entry := range entries {
		listed = append(listed, cloneTransaction(entry))
	}
	return listed, nil
}

// LastByOrder returns the most recent ledger entry for the order.
func (r *TransactionRepository) LastByOrder(_ context.Context, orderID string) (domain.Transaction, error) {
	if r == nil || r.registry == nil {
		return domain.Transaction{}, conflictError("transaction repository: not initialised")
	}
	defer r.registry.lock()()

	entries := r.byOrder[orderID]
	if len(entries) == 0 {
		return domain.Transaction{}, notFoundError("transaction repository: order %s has no transactions", orderID)
	}
	return cloneTransaction(entries[len(entries)-1]), nil
}

// CapturableByOrder returns the latest AUTHORIZE entry not superseded by a
// later CAPTURE or REFUND.
func (r *TransactionRepository) CapturableByOrder(_ context.Context, orderID string) (domain.Transaction, error) {
	if r == nil || r.registry == nil {
		return domain.Transaction{}, conflictError("transaction repository: not initialised")
	}
	defer r.registry.lock()()

	entries := r.byOrder[orderID]
	for i := len(entries) - 1; i >= 0; i-- {
		switch entries[i].TransactionType {
		case domain.TransactionTypeAuthorize:
			return cloneTransaction(entries[i]), nil
		case domain.TransactionTypeCapture, domain.TransactionTypeRefund:
			return domain.Transaction{}, notFoundError("transaction repository: order %s authorization already settled", orderID)
		}
	}
	return domain.Transaction{}, notFoundError("transaction repository: order %s has no capturable authorization", orderID)
}

// PendingByOrder returns the AUTHORIZECAPTURE entry still awaiting its
// redirect callback.
func (r *TransactionRepository) PendingByOrder(_ context.Context, orderID string) (domain.Transaction, error) {
	if r == nil || r.registry == nil {
		return domain.Transaction{}, conflictError("transaction repository: not initialised")
	}
	defer r.registry.lock()()

	entries := r.byOrder[orderID]
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.TransactionType != domain.TransactionTypeAuthorizeCapture {
			continue
		}
		if entry.Detail(payments.DetailProviderStatus) == payments.StatusPending {
			return cloneTransaction(entry), nil
		}
		break
	}
	return domain.Transaction{}, notFoundError("transaction repository: order %s has no pending transaction", orderID)
}

func (r *TransactionRepository) snapshot() {
	r.saved = make(map[string][]domain.Transaction, len(r.byOrder))
	for orderID, entries := range r.byOrder {
		r.saved[orderID] = append([]domain.Transaction(nil), entries...)
	}
}

func (r *TransactionRepository) restore() {
	if r.saved != nil {
		r.byOrder = r.saved
		r.saved = nil
	}
}

func (r *TransactionRepository) discard() { r.saved = nil }

func cloneTransaction(transaction domain.Transaction) domain.Transaction {
	copied := transaction
	copied.Details = transaction.CloneDetails()
	return copied
}
