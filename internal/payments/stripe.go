package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/commercekit/storefront/internal/domain"
)

// MetaPaymentToken is the payment metadata key carrying the tokenized card
// reference produced by client-side tokenization.
const MetaPaymentToken = "paymentToken"

const stripeModule = "stripe"

type stripeChargeAPI interface {
	New(params *stripe.ChargeParams) (*stripe.Charge, error)
	Capture(id string, params *stripe.ChargeCaptureParams) (*stripe.Charge, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	charges stripeChargeAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider. Clients may be injected
// for tests; otherwise they are built from the per-request secret credential.
type StripeProviderConfig struct {
	Backends *stripe.Backends
	Logger   Logger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements the Provider contract using the Stripe charge APIs.
// The secret credential is read from the per-request Config; no process-wide
// API key is ever set.
type StripeProvider struct {
	backends  *stripe.Backends
	overrides *stripeClients
	clock     func() time.Time
	logger    Logger
}

// NewStripeProvider constructs a Stripe payment module.
func NewStripeProvider(cfg StripeProviderConfig) *StripeProvider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		backends:  cfg.Backends,
		overrides: cfg.Clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

func (p *StripeProvider) api(apiKey string) stripeClients {
	if p.overrides != nil {
		return *p.overrides
	}
	sc := client.New(apiKey, p.backends)
	return stripeClients{charges: sc.Charges, refunds: sc.Refunds}
}

// ValidateConfiguration checks the required credentials, collecting every
// missing field name before failing.
func (p *StripeProvider) ValidateConfiguration(cfg Config, _ domain.MerchantStore) error {
	if missing := cfg.RequireKeys(ConfigKeySecret, ConfigKeyPublishable); len(missing) > 0 {
		return NewConfigurationError(stripeModule, missing)
	}
	return nil
}

// InitTransaction builds the tokenization bootstrap record carrying the
// publishable key. No network call is made.
func (p *StripeProvider) InitTransaction(_ context.Context, _ domain.MerchantStore, _ domain.Customer, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error) {
	publicKey := cfg.Key(ConfigKeyPublishable)
	if publicKey == "" {
		return domain.Transaction{}, NewTransactionError("stripe: publishable key not found in configuration", nil)
	}
	return domain.Transaction{
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeInit,
		PaymentType:     payment.PaymentType,
		Details: map[string]string{
			ConfigKeyPublishable: publicKey,
		},
	}, nil
}

// Authorize creates an authorization-only charge against the tokenized card.
func (p *StripeProvider) Authorize(ctx context.Context, store domain.MerchantStore, _ domain.Customer, _ []domain.CartItem, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error) {
	apiKey := cfg.Key(ConfigKeySecret)
	if apiKey == "" || len(payment.Metadata) == 0 {
		return domain.Transaction{}, NewTransactionError("stripe: missing payment metadata or secret credential", nil)
	}

	token := strings.TrimSpace(payment.MetadataValue(MetaPaymentToken))
	if token == "" {
		return domain.Transaction{}, NewTransactionError("stripe: missing payment token", nil)
	}

	wireAmount, err := stripeWireAmount(amount)
	if err != nil {
		return domain.Transaction{}, NewTransactionError("stripe: invalid charge amount", err)
	}

	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(wireAmount),
		Currency:    stripe.String(strings.ToLower(store.CurrencyCode)),
		Capture:     stripe.Bool(false),
		Description: stripe.String(fmt.Sprintf("Transaction - %s", store.Name)),
	}
	params.Context = ctx
	if err := params.SetSource(token); err != nil {
		return domain.Transaction{}, NewTransactionError("stripe: invalid payment source", err)
	}

	charge, err := p.api(apiKey).charges.New(params)
	if err != nil {
		return domain.Transaction{}, p.buildError(ctx, err)
	}

	p.logger(ctx, "payments.stripe.authorized", map[string]any{
		"chargeId": charge.ID,
		"status":   charge.Status,
		"amount":   wireAmount,
	})

	return domain.Transaction{
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeAuthorize,
		PaymentType:     domain.PaymentTypeCreditCard,
		Details: map[string]string{
			DetailTransactionID:  token,
			DetailProviderStatus: string(charge.Status),
			DetailProviderRef:    charge.ID,
		},
	}, nil
}

// Capture collects a previously authorized charge. The resulting transaction
// retains the original human-facing transaction id alongside the provider's
// confirmation id.
func (p *StripeProvider) Capture(ctx context.Context, _ domain.MerchantStore, _ domain.Customer, order domain.Order, capturable domain.Transaction, cfg Config) (domain.Transaction, error) {
	apiKey := cfg.Key(ConfigKeySecret)
	if apiKey == "" {
		return domain.Transaction{}, NewTransactionError("stripe: missing secret credential", nil)
	}

	chargeID := capturable.Detail(DetailProviderRef)
	if chargeID == "" {
		return domain.Transaction{}, NewTransactionError("stripe: capturable transaction has no provider charge reference", nil)
	}

	params := &stripe.ChargeCaptureParams{}
	params.Context = ctx
	charge, err := p.api(apiKey).charges.Capture(chargeID, params)
	if err != nil {
		return domain.Transaction{}, p.buildError(ctx, err)
	}

	p.logger(ctx, "payments.stripe.captured", map[string]any{
		"chargeId": charge.ID,
		"status":   charge.Status,
		"orderId":  order.ID,
	})

	return domain.Transaction{
		OrderID:         order.ID,
		Amount:          order.Total,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeCapture,
		PaymentType:     domain.PaymentTypeCreditCard,
		Details: map[string]string{
			DetailTransactionID:  capturable.Detail(DetailTransactionID),
			DetailProviderStatus: string(charge.Status),
			DetailProviderRef:    charge.ID,
		},
	}, nil
}

// AuthorizeAndCapture performs a single-step charge with immediate capture.
func (p *StripeProvider) AuthorizeAndCapture(ctx context.Context, _ domain.Order, store domain.MerchantStore, customer domain.Customer, items []domain.CartItem, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error) {
	apiKey := cfg.Key(ConfigKeySecret)
	if apiKey == "" || len(payment.Metadata) == 0 {
		return domain.Transaction{}, NewTransactionError("stripe: missing payment metadata or secret credential", nil)
	}

	token := strings.TrimSpace(payment.MetadataValue(MetaPaymentToken))
	if token == "" {
		return domain.Transaction{}, NewTransactionError("stripe: missing payment token", nil)
	}

	wireAmount, err := stripeWireAmount(amount)
	if err != nil {
		return domain.Transaction{}, NewTransactionError("stripe: invalid charge amount", err)
	}

	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(wireAmount),
		Currency:    stripe.String(strings.ToLower(store.CurrencyCode)),
		Capture:     stripe.Bool(true),
		Description: stripe.String(fmt.Sprintf("Transaction - %s", store.Name)),
	}
	params.Context = ctx
	if err := params.SetSource(token); err != nil {
		return domain.Transaction{}, NewTransactionError("stripe: invalid payment source", err)
	}

	charge, err := p.api(apiKey).charges.New(params)
	if err != nil {
		return domain.Transaction{}, p.buildError(ctx, err)
	}

	p.logger(ctx, "payments.stripe.charged", map[string]any{
		"chargeId": charge.ID,
		"status":   charge.Status,
		"amount":   wireAmount,
	})

	return domain.Transaction{
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeAuthorizeCapture,
		PaymentType:     domain.PaymentTypeCreditCard,
		Details: map[string]string{
			DetailTransactionID:  token,
			DetailProviderStatus: string(charge.Status),
			DetailProviderRef:    charge.ID,
		},
	}, nil
}

// Refund returns captured funds. A partial refund sends the given amount;
// a full refund sends the original charge amount.
func (p *StripeProvider) Refund(ctx context.Context, _ bool, _ domain.MerchantStore, transaction domain.Transaction, order domain.Order, amount decimal.Decimal, cfg Config) (domain.Transaction, error) {
	apiKey := cfg.Key(ConfigKeySecret)
	if apiKey == "" {
		return domain.Transaction{}, NewTransactionError("stripe: missing secret credential", nil)
	}

	chargeID := transaction.Detail(DetailProviderRef)
	if chargeID == "" {
		return domain.Transaction{}, NewTransactionError("stripe: refund requires the original charge reference", nil)
	}

	wireAmount, err := stripeWireAmount(amount)
	if err != nil {
		return domain.Transaction{}, NewTransactionError("stripe: invalid refund amount", err)
	}

	params := &stripe.RefundParams{
		Charge: stripe.String(chargeID),
		Amount: stripe.Int64(wireAmount),
	}
	params.Context = ctx
	refund, err := p.api(apiKey).refunds.New(params)
	if err != nil {
		return domain.Transaction{}, p.buildError(ctx, err)
	}

	p.logger(ctx, "payments.stripe.refunded", map[string]any{
		"refundId": refund.ID,
		"chargeId": chargeID,
		"orderId":  order.ID,
	})

	return domain.Transaction{
		OrderID:         order.ID,
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeRefund,
		PaymentType:     domain.PaymentTypeCreditCard,
		Details: map[string]string{
			DetailTransactionID:  transaction.Detail(DetailTransactionID),
			DetailProviderStatus: string(refund.Reason),
			DetailProviderRef:    refund.ID,
		},
	}, nil
}

// stripeDeclineTable maps Stripe decline/error codes onto the shared taxonomy.
var stripeDeclineTable = declineTable{
	"card_declined":        {Kind: KindDeclined, Code: CodePaymentDeclined},
	"expired_card":         {Kind: KindDeclined, Code: CodePaymentDeclined},
	"invalid_number":       {Kind: KindValidation, Code: CodeCardNumber},
	"incorrect_number":     {Kind: KindValidation, Code: CodeCardNumber},
	"invalid_expiry_month": {Kind: KindValidation, Code: CodeCardDateFormat},
	"invalid_expiry_year":  {Kind: KindValidation, Code: CodeCardDateFormat},
	"invalid_cvc":          {Kind: KindValidation, Code: CodeCardCVC},
	"incorrect_cvc":        {Kind: KindValidation, Code: CodeCardCVC},
	"processing_error":     {Kind: KindTransaction, Code: CodePaymentError},
	"rate_limit":           {Kind: KindTransaction, Code: CodePaymentError},
}

// buildError translates a Stripe API error into the shared taxonomy. Card
// errors go through the decline table; request, authentication, and transport
// failures are operator-facing transaction errors.
func (p *StripeProvider) buildError(ctx context.Context, err error) *Error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		var classified *Error
		if errors.As(err, &classified) {
			return classified
		}
		p.logger(ctx, "payments.stripe.error", map[string]any{"error": err.Error()})
		return NewTransactionError("stripe: payment could not be processed", err)
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		return classify(ctx, p.logger, stripeModule, stripeDeclineTable, code, stripeErr.Msg, err)
	case stripe.ErrorTypeInvalidRequest:
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			p.logger(ctx, "payments.stripe.authentication_failed", map[string]any{"message": stripeErr.Msg})
			return NewTransactionError("stripe: provider authentication failed", err)
		}
		p.logger(ctx, "payments.stripe.invalid_request", map[string]any{"message": stripeErr.Msg})
		return NewTransactionError("stripe: invalid payment parameters", err)
	default:
		p.logger(ctx, "payments.stripe.error", map[string]any{"message": stripeErr.Msg})
		return NewTransactionError("stripe: payment could not be processed", err)
	}
}

// stripeWireAmount converts a decimal amount to Stripe's integer minor units.
// The conversion formats the already-rounded display amount and strips the
// decimal point, so it follows the upstream rounding step exactly.
func stripeWireAmount(amount decimal.Decimal) (int64, error) {
	wire := domain.MinorUnits(domain.FormatAmount(amount))
	value, err := strconv.ParseInt(wire, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wire amount %q: %w", wire, err)
	}
	return value, nil
}
