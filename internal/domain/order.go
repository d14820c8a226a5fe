package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusOrdered is the initial status assigned when an order is committed.
	OrderStatusOrdered OrderStatus = "ORDERED"
	// OrderStatusProcessed indicates payment completed and fulfilment can begin.
	OrderStatusProcessed OrderStatus = "PROCESSED"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusRefunded indicates captured funds were returned.
	OrderStatusRefunded OrderStatus = "REFUNDED"
	// OrderStatusCanceled indicates the order was canceled before capture.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// TransactionType identifies the payment operation a ledger entry records.
type TransactionType string

const (
	// TransactionTypeInit marks a client-side tokenization bootstrap record.
	TransactionTypeInit TransactionType = "INIT"
	// TransactionTypeAuthorize reserves funds without capturing them.
	TransactionTypeAuthorize TransactionType = "AUTHORIZE"
	// TransactionTypeCapture collects previously authorized funds.
	TransactionTypeCapture TransactionType = "CAPTURE"
	// TransactionTypeAuthorizeCapture is a single-step reserve and collect, or for
	// redirect providers the initiation of an off-site flow confirmed later by callback.
	TransactionTypeAuthorizeCapture TransactionType = "AUTHORIZECAPTURE"
	// TransactionTypeRefund returns previously captured funds, fully or partially.
	TransactionTypeRefund TransactionType = "REFUND"
	// TransactionTypeOK is the terminal marker meaning no further money movement applies.
	TransactionTypeOK TransactionType = "OK"
)

// PaymentType identifies the payment instrument family selected at checkout.
type PaymentType string

const (
	PaymentTypeCreditCard PaymentType = "CREDITCARD"
	PaymentTypePaypal     PaymentType = "PAYPAL"
	PaymentTypeMoneyOrder PaymentType = "MONEYORDER"
	PaymentTypeFree       PaymentType = "FREE"
	PaymentTypeCOD        PaymentType = "COD"
)

// ParsePaymentType resolves a submitted payment type string, returning false for
// values outside the known set.
func ParsePaymentType(value string) (PaymentType, bool) {
	switch PaymentType(value) {
	case PaymentTypeCreditCard, PaymentTypePaypal, PaymentTypeMoneyOrder, PaymentTypeFree, PaymentTypeCOD:
		return PaymentType(value), true
	default:
		return "", false
	}
}

// CreditCardType enumerates the card networks accepted at checkout.
type CreditCardType string

const (
	CreditCardTypeAmex       CreditCardType = "AMEX"
	CreditCardTypeVisa       CreditCardType = "VISA"
	CreditCardTypeMastercard CreditCardType = "MASTERCARD"
	CreditCardTypeDiners     CreditCardType = "DINERS"
	CreditCardTypeDiscovery  CreditCardType = "DISCOVERY"
)

// ParseCreditCardType resolves a submitted card network, returning false when the
// network is not recognised. Unknown networks are never defaulted.
func ParseCreditCardType(value string) (CreditCardType, bool) {
	switch {
	case equalsFold(value, string(CreditCardTypeAmex)):
		return CreditCardTypeAmex, true
	case equalsFold(value, string(CreditCardTypeVisa)):
		return CreditCardTypeVisa, true
	case equalsFold(value, string(CreditCardTypeMastercard)):
		return CreditCardTypeMastercard, true
	case equalsFold(value, string(CreditCardTypeDiners)):
		return CreditCardTypeDiners, true
	case equalsFold(value, string(CreditCardTypeDiscovery)):
		return CreditCardTypeDiscovery, true
	default:
		return "", false
	}
}

// Address is the billing or delivery snapshot copied onto an order at commit time.
type Address struct {
	FirstName     string
	LastName      string
	Company       string
	StreetAddress string
	City          string
	PostalCode    string
	StateProvince string
	Zone          string
	Country       string
	Phone         string
}

// Customer is the purchasing identity resolved by the surrounding web layer.
type Customer struct {
	ID           string
	Email        string
	Anonymous    bool
	Billing      Address
	Delivery     Address
	LanguageCode string
}

// MerchantStore carries the store-scoped context payment modules operate under.
type MerchantStore struct {
	Code         string
	Name         string
	CurrencyCode string
	CountryCode  string
	LanguageCode string
	Email        string
	TaxRate      decimal.Decimal
}

// CartItem is a priced line in a shopping cart.
type CartItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	ItemPrice decimal.Decimal
	Virtual   bool
}

// Subtotal returns quantity times unit price for the line.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.ItemPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShoppingCart is the mutable pre-order aggregate. A promo code carries the
// timestamp it was applied so the total calculator can enforce its validity window.
type ShoppingCart struct {
	ID         string
	Code       string
	StoreCode  string
	CustomerID string
	Items      []CartItem
	PromoCode  string
	PromoAdded time.Time
	OrderID    string
	Version    int64
	UpdatedAt  time.Time
}

// RequiresShipping reports whether any cart line needs physical delivery.
func (c ShoppingCart) RequiresShipping() bool {
	for _, item := range c.Items {
		if !item.Virtual {
			return true
		}
	}
	return false
}

// ShippingSummary is the selected subset of a shipping quote attached to an order.
type ShippingSummary struct {
	ShippingModule string
	OptionCode     string
	OptionName     string
	Shipping       decimal.Decimal
	Handling       decimal.Decimal
	FreeShipping   bool
	TaxOnShipping  bool
}

// OrderTotal is a named, valued, sort-ordered component of the order total.
// Immutable once attached to an order; totals are always persisted and rendered
// in ascending SortOrder. Negative values (discounts) subtract from the total.
type OrderTotal struct {
	Code      string
	Title     string
	Value     decimal.Decimal
	SortOrder int
}

// Canonical order total codes.
const (
	OrderTotalSubtotal = "subtotal"
	OrderTotalShipping = "shipping"
	OrderTotalHandling = "handling"
	OrderTotalDiscount = "discount"
	OrderTotalTax      = "tax"
)

// OrderStatusHistory is an immutable audit entry appended when an order status
// changes. Entries are never rewritten or deleted.
type OrderStatusHistory struct {
	ID               string
	OrderID          string
	Status           OrderStatus
	Comments         string
	CustomerNotified bool
	DateAdded        time.Time
}

// OrderLineItem is the priced snapshot of a cart line frozen onto the order.
type OrderLineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	ItemPrice decimal.Decimal
}

// CreditCard holds the masked audit copy of card data stored with an order.
// The number is masked before it ever reaches this struct.
type CreditCard struct {
	CardType     CreditCardType
	MaskedNumber string
	Owner        string
	Expires      string
}

// Order is the aggregate root committed by the order workflow. After commit it is
// never mutated except through explicit status-history-producing operations.
type Order struct {
	ID                 string
	OrderNumber        string
	StoreCode          string
	Status             OrderStatus
	CurrencyCode       string
	Total              decimal.Decimal
	DatePurchased      time.Time
	CustomerID         string
	CustomerEmail      string
	Billing            Address
	Delivery           Address
	PaymentType        PaymentType
	PaymentModuleCode  string
	ShippingModuleCode string
	CartCode           string
	LineItems          []OrderLineItem
	Totals             []OrderTotal
	History            []OrderStatusHistory
	CreditCard         *CreditCard
	Version            int64
}

// SumTotals adds up the order's total components. At commit time the result must
// equal Order.Total to the currency's minor-unit precision.
func (o Order) SumTotals() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range o.Totals {
		sum = sum.Add(t.Value)
	}
	return sum
}

// Payment is the transient request descriptor handed to a payment module. It is
// never persisted as its own entity.
type Payment struct {
	Amount          decimal.Decimal
	CurrencyCode    string
	PaymentType     PaymentType
	TransactionType TransactionType
	ModuleName      string
	Metadata        map[string]string
}

// MetadataValue returns the trimmed metadata entry for key, or empty.
func (p Payment) MetadataValue(key string) string {
	if len(p.Metadata) == 0 {
		return ""
	}
	return p.Metadata[key]
}

// CreditCardPayment extends Payment with card-holder details captured at checkout.
type CreditCardPayment struct {
	Payment
	CardOwner        string
	CardNumber       string
	ValidationNumber string
	ExpirationMonth  string
	ExpirationYear   string
	CardType         CreditCardType
}

// Transaction is an immutable payment ledger entry. Each provider round-trip
// produces a new Transaction appended to the order's ledger; entries are never
// updated in place or deleted. OrderID may be empty at creation when the order
// is not yet persisted; the workflow binds it before the atomic commit.
type Transaction struct {
	ID              string
	OrderID         string
	Amount          decimal.Decimal
	TransactionDate time.Time
	TransactionType TransactionType
	PaymentType     PaymentType
	Details         map[string]string
}

// Detail reads a provider detail field, tolerating a nil map.
func (t Transaction) Detail(key string) string {
	if len(t.Details) == 0 {
		return ""
	}
	return t.Details[key]
}

// CloneDetails returns a copy of the detail mapping that callers may mutate.
func (t Transaction) CloneDetails() map[string]string {
	if t.Details == nil {
		return map[string]string{}
	}
	copied := make(map[string]string, len(t.Details))
	for k, v := range t.Details {
		copied[k] = v
	}
	return copied
}

func equalsFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), b)
}
