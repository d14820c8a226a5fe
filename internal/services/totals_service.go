package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
)

// Sort positions controlling the rendered order of total lines.
const (
	sortOrderSubtotal = 10
	sortOrderShipping = 20
	sortOrderHandling = 25
	sortOrderDiscount = 30
	sortOrderTax      = 40
)

// ErrEmptyCart indicates totals were requested for a cart with no lines.
var ErrEmptyCart = errors.New("totals: cart has no items")

// PromoResolver returns the discount rate for a promo code, or false when the
// code is unknown.
type PromoResolver func(code string) (decimal.Decimal, bool)

// StaticPromoResolver resolves promo codes from a fixed table of rates.
func StaticPromoResolver(rates map[string]decimal.Decimal) PromoResolver {
	return func(code string) (decimal.Decimal, bool) {
		rate, ok := rates[strings.ToUpper(strings.TrimSpace(code))]
		return rate, ok
	}
}

// OrderTotalServiceDeps wires the dependencies required by the totals calculator.
type OrderTotalServiceDeps struct {
	Promos PromoResolver
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderTotalService struct {
	promos PromoResolver
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderTotalService constructs an OrderTotalService.
func NewOrderTotalService(deps OrderTotalServiceDeps) (OrderTotalService, error) {
	promos := deps.Promos
	if promos == nil {
		promos = func(string) (decimal.Decimal, bool) { return decimal.Zero, false }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderTotalService{
		promos: promos,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CalculateTotals produces the full money breakdown for the cart. The
// discount line carries a negative value so the components always sum to the
// grand total. A promo code only discounts on the calendar day it was applied;
// the day after, it silently expires.
func (s *orderTotalService) CalculateTotals(ctx context.Context, cart domain.ShoppingCart, store domain.MerchantStore, shipping *domain.ShippingSummary) (OrderTotalSummary, error) {
	if s == nil {
		return OrderTotalSummary{}, errors.New("totals: service not initialised")
	}
	if len(cart.Items) == 0 {
		return OrderTotalSummary{}, ErrEmptyCart
	}

	subtotal := decimal.Zero
	for _, item := range cart.Items {
		subtotal = subtotal.Add(item.Subtotal())
	}

	shippingCost := decimal.Zero
	handlingCost := decimal.Zero
	taxOnShipping := false
	if shipping != nil {
		if !shipping.FreeShipping {
			shippingCost = shipping.Shipping
		}
		handlingCost = shipping.Handling
		taxOnShipping = shipping.TaxOnShipping
	}

	discount, promoExpired := s.promoDiscount(ctx, cart, subtotal)

	taxable := subtotal.Sub(discount)
	if taxOnShipping {
		taxable = taxable.Add(shippingCost)
	}
	tax := taxable.Mul(store.TaxRate).Div(decimal.NewFromInt(100)).Round(2)

	subtotal = subtotal.Round(2)
	shippingCost = shippingCost.Round(2)
	handlingCost = handlingCost.Round(2)
	discount = discount.Round(2)

	total := subtotal.Add(shippingCost).Add(handlingCost).Sub(discount).Add(tax)

	totals := []domain.OrderTotal{
		{Code: domain.OrderTotalSubtotal, Title: "Subtotal", Value: subtotal, SortOrder: sortOrderSubtotal},
	}
	if shippingCost.IsPositive() || (shipping != nil && cart.RequiresShipping()) {
		totals = append(totals, domain.OrderTotal{
			Code: domain.OrderTotalShipping, Title: "Shipping", Value: shippingCost, SortOrder: sortOrderShipping,
		})
	}
	if handlingCost.IsPositive() {
		totals = append(totals, domain.OrderTotal{
			Code: domain.OrderTotalHandling, Title: "Handling", Value: handlingCost, SortOrder: sortOrderHandling,
		})
	}
	if discount.IsPositive() {
		totals = append(totals, domain.OrderTotal{
			Code: domain.OrderTotalDiscount, Title: "Discount", Value: discount.Neg(), SortOrder: sortOrderDiscount,
		})
	}
	totals = append(totals, domain.OrderTotal{
		Code: domain.OrderTotalTax, Title: "Tax", Value: tax, SortOrder: sortOrderTax,
	})

	return OrderTotalSummary{
		Subtotal:     subtotal,
		Shipping:     shippingCost,
		Handling:     handlingCost,
		Discount:     discount,
		Tax:          tax,
		Total:        total,
		Totals:       totals,
		PromoExpired: promoExpired,
	}, nil
}

// promoDiscount returns the discount the cart's promo code earns. The second
// result reports that the code has expired and should be removed from the cart.
func (s *orderTotalService) promoDiscount(ctx context.Context, cart domain.ShoppingCart, subtotal decimal.Decimal) (decimal.Decimal, bool) {
	code := strings.TrimSpace(cart.PromoCode)
	if code == "" {
		return decimal.Zero, false
	}

	if !s.promoActive(cart.PromoAdded) {
		s.logger(ctx, "totals.promo_expired", map[string]any{
			"cartCode": cart.Code,
			"promo":    code,
		})
		return decimal.Zero, true
	}

	rate, ok := s.promos(code)
	if !ok || !rate.IsPositive() {
		s.logger(ctx, "totals.promo_unknown", map[string]any{
			"cartCode": cart.Code,
			"promo":    code,
		})
		return decimal.Zero, false
	}

	return subtotal.Mul(rate).Div(decimal.NewFromInt(100)).Round(2), false
}

// promoActive reports whether the promo was applied on the current calendar
// day. Applications from any earlier day are expired.
func (s *orderTotalService) promoActive(applied time.Time) bool {
	if applied.IsZero() {
		return false
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	appliedDay := applied.UTC()
	return !appliedDay.Before(today) && appliedDay.Before(today.Add(24*time.Hour))
}
