package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
)

func newTotalsService(t *testing.T, now time.Time, rates map[string]decimal.Decimal) OrderTotalService {
	t.Helper()
	svc, err := NewOrderTotalService(OrderTotalServiceDeps{
		Promos: StaticPromoResolver(rates),
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderTotalService returned error: %v", err)
	}
	return svc
}

func totalsTestCart(items ...domain.CartItem) domain.ShoppingCart {
	return domain.ShoppingCart{Code: "cart-1", StoreCode: "DEFAULT", Items: items}
}

func totalsTestStore(taxRate string) domain.MerchantStore {
	rate, err := decimal.NewFromString(taxRate)
	if err != nil {
		panic(err)
	}
	return domain.MerchantStore{Code: "DEFAULT", CurrencyCode: "USD", TaxRate: rate}
}

func TestCalculateTotalsComponentsSumToTotal(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, map[string]decimal.Decimal{"SAVE10": decimal.NewFromInt(10)})

	cart := totalsTestCart(
		domain.CartItem{SKU: "A", Quantity: 2, ItemPrice: decimal.NewFromFloat(19.99)},
		domain.CartItem{SKU: "B", Quantity: 1, ItemPrice: decimal.NewFromFloat(5.01)},
	)
	cart.PromoCode = "SAVE10"
	cart.PromoAdded = now
	shipping := &domain.ShippingSummary{
		Shipping: decimal.NewFromFloat(7.50),
		Handling: decimal.NewFromFloat(1.25),
	}

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("8.25"), shipping)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}

	if got := domain.FormatAmount(summary.Subtotal); got != "44.99" {
		t.Fatalf("subtotal %s, want 44.99", got)
	}
	if got := domain.FormatAmount(summary.Discount); got != "4.50" {
		t.Fatalf("discount %s, want 4.50", got)
	}
	// Tax on (44.99 - 4.50) at 8.25%.
	if got := domain.FormatAmount(summary.Tax); got != "3.34" {
		t.Fatalf("tax %s, want 3.34", got)
	}

	sum := summary.Subtotal.Add(summary.Shipping).Add(summary.Handling).Sub(summary.Discount).Add(summary.Tax)
	if !sum.Equal(summary.Total) {
		t.Fatalf("components sum to %s, total is %s", sum, summary.Total)
	}

	var lineSum decimal.Decimal
	for _, line := range summary.Totals {
		lineSum = lineSum.Add(line.Value)
	}
	if !lineSum.Equal(summary.Total) {
		t.Fatalf("total lines sum to %s, total is %s", lineSum, summary.Total)
	}
}

func TestCalculateTotalsEmptyCart(t *testing.T) {
	svc := newTotalsService(t, time.Now(), nil)
	_, err := svc.CalculateTotals(context.Background(), totalsTestCart(), totalsTestStore("0"), nil)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCalculateTotalsDiscountLineIsNegative(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, map[string]decimal.Decimal{"SAVE20": decimal.NewFromInt(20)})

	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(100)})
	cart.PromoCode = "save20"
	cart.PromoAdded = now.Add(-2 * time.Hour)

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("0"), nil)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}

	var discountLine *domain.OrderTotal
	for i := range summary.Totals {
		if summary.Totals[i].Code == domain.OrderTotalDiscount {
			discountLine = &summary.Totals[i]
		}
	}
	if discountLine == nil {
		t.Fatal("expected a discount line")
	}
	if !discountLine.Value.Equal(decimal.NewFromInt(-20)) {
		t.Fatalf("discount line value %s, want -20", discountLine.Value)
	}
	if !summary.Total.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("total %s, want 80", summary.Total)
	}
}

func TestCalculateTotalsPromoExpiresNextDay(t *testing.T) {
	applied := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	rates := map[string]decimal.Decimal{"SAVE10": decimal.NewFromInt(10)}
	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(50)})
	cart.PromoCode = "SAVE10"
	cart.PromoAdded = applied

	// Same calendar day: discount applies.
	sameDay := newTotalsService(t, time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC), rates)
	summary, err := sameDay.CalculateTotals(context.Background(), cart, totalsTestStore("0"), nil)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Discount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected same-day discount 5, got %s", summary.Discount)
	}
	if summary.PromoExpired {
		t.Fatal("same-day promo must not be reported expired")
	}

	// Just past midnight the next day: the promo silently expires.
	nextDay := newTotalsService(t, time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC), rates)
	summary, err = nextDay.CalculateTotals(context.Background(), cart, totalsTestStore("0"), nil)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Discount.IsZero() {
		t.Fatalf("expected expired promo to discount nothing, got %s", summary.Discount)
	}
	if !summary.Total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("total %s, want 50", summary.Total)
	}
	if !summary.PromoExpired {
		t.Fatal("expired promo must be reported so the cart can be cleaned")
	}
}

func TestCalculateTotalsUnknownPromoIgnored(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, map[string]decimal.Decimal{"SAVE10": decimal.NewFromInt(10)})

	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(30)})
	cart.PromoCode = "BOGUS"
	cart.PromoAdded = now

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("0"), nil)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Discount.IsZero() {
		t.Fatalf("expected no discount for unknown promo, got %s", summary.Discount)
	}
	if summary.PromoExpired {
		t.Fatal("unknown promo is ignored, not expired")
	}
}

func TestCalculateTotalsTaxOnShipping(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, nil)

	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(100)})
	shipping := &domain.ShippingSummary{
		Shipping:      decimal.NewFromInt(10),
		TaxOnShipping: true,
	}

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("10"), shipping)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Tax.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("tax %s, want 11", summary.Tax)
	}

	shipping.TaxOnShipping = false
	summary, err = svc.CalculateTotals(context.Background(), cart, totalsTestStore("10"), shipping)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Tax.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("tax %s, want 10", summary.Tax)
	}
}

func TestCalculateTotalsFreeShippingLineForPhysicalGoods(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, nil)

	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(40)})
	shipping := &domain.ShippingSummary{
		Shipping:     decimal.NewFromInt(9),
		FreeShipping: true,
	}

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("0"), shipping)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}
	if !summary.Shipping.IsZero() {
		t.Fatalf("expected free shipping, got %s", summary.Shipping)
	}

	var shippingLine *domain.OrderTotal
	for i := range summary.Totals {
		if summary.Totals[i].Code == domain.OrderTotalShipping {
			shippingLine = &summary.Totals[i]
		}
	}
	if shippingLine == nil {
		t.Fatal("expected a zero-valued shipping line for a physical cart")
	}
	if !shippingLine.Value.IsZero() {
		t.Fatalf("shipping line value %s, want 0", shippingLine.Value)
	}
}

func TestCalculateTotalsSortOrder(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTotalsService(t, now, map[string]decimal.Decimal{"SAVE10": decimal.NewFromInt(10)})

	cart := totalsTestCart(domain.CartItem{SKU: "A", Quantity: 1, ItemPrice: decimal.NewFromInt(100)})
	cart.PromoCode = "SAVE10"
	cart.PromoAdded = now
	shipping := &domain.ShippingSummary{
		Shipping: decimal.NewFromInt(5),
		Handling: decimal.NewFromInt(2),
	}

	summary, err := svc.CalculateTotals(context.Background(), cart, totalsTestStore("5"), shipping)
	if err != nil {
		t.Fatalf("CalculateTotals returned error: %v", err)
	}

	wantCodes := []string{
		domain.OrderTotalSubtotal,
		domain.OrderTotalShipping,
		domain.OrderTotalHandling,
		domain.OrderTotalDiscount,
		domain.OrderTotalTax,
	}
	if len(summary.Totals) != len(wantCodes) {
		t.Fatalf("expected %d total lines, got %d", len(wantCodes), len(summary.Totals))
	}
	for i, code := range wantCodes {
		if summary.Totals[i].Code != code {
			t.Fatalf("line %d is %s, want %s", i, summary.Totals[i].Code, code)
		}
		if i > 0 && summary.Totals[i].SortOrder <= summary.Totals[i-1].SortOrder {
			t.Fatalf("sort order not ascending at line %d", i)
		}
	}
}
