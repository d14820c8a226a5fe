package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
)

func TestRunInTxRollsBackEveryRepository(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	if _, err := registry.Carts().Save(ctx, domain.ShoppingCart{Code: "cart-1"}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	boom := errors.New("boom")
	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := registry.Orders().Insert(ctx, domain.Order{ID: "order-1", CustomerID: "cust-1"}); err != nil {
			return err
		}
		if _, err := registry.Transactions().Append(ctx, domain.Transaction{
			OrderID:         "order-1",
			TransactionType: domain.TransactionTypeAuthorize,
			Amount:          decimal.NewFromInt(10),
		}); err != nil {
			return err
		}
		cart, err := registry.Carts().FindByCode(ctx, "cart-1")
		if err != nil {
			return err
		}
		cart.OrderID = "order-1"
		if _, err := registry.Carts().Save(ctx, cart); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}

	if _, err := registry.Orders().FindByID(ctx, "order-1"); err == nil {
		t.Fatal("expected the order insert to be rolled back")
	}
	if entries, err := registry.Transactions().ListByOrder(ctx, "order-1"); err != nil || len(entries) != 0 {
		t.Fatalf("expected the ledger append to be rolled back, got %d entries (err %v)", len(entries), err)
	}
	cart, err := registry.Carts().FindByCode(ctx, "cart-1")
	if err != nil {
		t.Fatalf("cart disappeared after rollback: %v", err)
	}
	if cart.OrderID != "" {
		t.Fatalf("expected cart order binding rolled back, got %q", cart.OrderID)
	}
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		_, err := registry.Orders().Insert(ctx, domain.Order{ID: "order-2", CustomerID: "cust-1"})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx returned error: %v", err)
	}
	if _, err := registry.Orders().FindByID(ctx, "order-2"); err != nil {
		t.Fatalf("expected the order to survive the transaction: %v", err)
	}
}

func TestRunInTxNestedCallJoins(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		return registry.RunInTx(ctx, func(ctx context.Context) error {
			_, err := registry.Orders().Insert(ctx, domain.Order{ID: "order-3"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested RunInTx returned error: %v", err)
	}
	if _, err := registry.Orders().FindByID(ctx, "order-3"); err != nil {
		t.Fatalf("expected the nested insert to commit: %v", err)
	}
}

func TestSeedStoreOutsideTransactionScope(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	registry.SeedStore(domain.MerchantStore{Code: "DEFAULT", Name: "Default store"})

	boom := errors.New("boom")
	_ = registry.RunInTx(ctx, func(context.Context) error { return boom })

	store, err := registry.Stores().FindByCode(ctx, "DEFAULT")
	if err != nil {
		t.Fatalf("store lookup failed: %v", err)
	}
	if store.Name != "Default store" {
		t.Fatalf("unexpected store: %+v", store)
	}
}
