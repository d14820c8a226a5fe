package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"

	domain "github.com/commercekit/storefront/internal/domain"
)

type stubChargeAPI struct {
	newParams     *stripe.ChargeParams
	captureID     string
	captureParams *stripe.ChargeCaptureParams
	charge        *stripe.Charge
	err           error
}

func (s *stubChargeAPI) New(params *stripe.ChargeParams) (*stripe.Charge, error) {
	s.newParams = params
	return s.charge, s.err
}

func (s *stubChargeAPI) Capture(id string, params *stripe.ChargeCaptureParams) (*stripe.Charge, error) {
	s.captureID = id
	s.captureParams = params
	return s.charge, s.err
}

type stubRefundAPI struct {
	params *stripe.RefundParams
	refund *stripe.Refund
	err    error
}

func (s *stubRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	s.params = params
	return s.refund, s.err
}

func newStripeTestProvider(charges *stubChargeAPI, refunds *stubRefundAPI) *StripeProvider {
	return NewStripeProvider(StripeProviderConfig{
		Clock:   func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		Clients: &stripeClients{charges: charges, refunds: refunds},
	})
}

func stripeTestConfig() Config {
	return Config{
		ModuleCode: "stripe",
		Keys: map[string]string{
			ConfigKeySecret:      "sk_test_123",
			ConfigKeyPublishable: "pk_test_123",
		},
	}
}

func stripeTestStore() domain.MerchantStore {
	return domain.MerchantStore{Code: "DEFAULT", Name: "Default store", CurrencyCode: "USD"}
}

func TestStripeValidateConfigurationMissingKeys(t *testing.T) {
	provider := newStripeTestProvider(&stubChargeAPI{}, &stubRefundAPI{})

	err := provider.ValidateConfiguration(Config{}, stripeTestStore())
	if err == nil {
		t.Fatal("expected configuration error")
	}
	var classified *Error
	if !errors.As(err, &classified) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if classified.Kind != KindValidation {
		t.Fatalf("unexpected kind: %s", classified.Kind)
	}
	if len(classified.Fields) != 2 {
		t.Fatalf("expected both credential names reported, got %v", classified.Fields)
	}
}

func TestStripeInitTransactionCarriesPublishableKey(t *testing.T) {
	provider := newStripeTestProvider(&stubChargeAPI{}, &stubRefundAPI{})

	txn, err := provider.InitTransaction(context.Background(), stripeTestStore(), domain.Customer{},
		decimal.NewFromFloat(12.50), domain.Payment{PaymentType: domain.PaymentTypeCreditCard}, stripeTestConfig())
	if err != nil {
		t.Fatalf("InitTransaction returned error: %v", err)
	}
	if txn.TransactionType != domain.TransactionTypeInit {
		t.Fatalf("unexpected transaction type: %s", txn.TransactionType)
	}
	if txn.Detail(ConfigKeyPublishable) != "pk_test_123" {
		t.Fatalf("expected publishable key in details, got %v", txn.Details)
	}
}

func TestStripeAuthorizeBuildsAuthOnlyCharge(t *testing.T) {
	charges := &stubChargeAPI{charge: &stripe.Charge{ID: "ch_1", Status: stripe.ChargeStatusSucceeded}}
	provider := newStripeTestProvider(charges, &stubRefundAPI{})

	payment := domain.Payment{
		PaymentType: domain.PaymentTypeCreditCard,
		Metadata:    map[string]string{MetaPaymentToken: "tok_visa"},
	}
	txn, err := provider.Authorize(context.Background(), stripeTestStore(), domain.Customer{}, nil,
		decimal.NewFromFloat(99.95), payment, stripeTestConfig())
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}

	if charges.newParams == nil {
		t.Fatal("expected a charge to be created")
	}
	if got := *charges.newParams.Amount; got != 9995 {
		t.Fatalf("expected wire amount 9995, got %d", got)
	}
	if got := *charges.newParams.Currency; got != "usd" {
		t.Fatalf("expected lowercase currency, got %s", got)
	}
	if *charges.newParams.Capture {
		t.Fatal("authorize must not capture")
	}

	if txn.TransactionType != domain.TransactionTypeAuthorize {
		t.Fatalf("unexpected transaction type: %s", txn.TransactionType)
	}
	if txn.Detail(DetailProviderRef) != "ch_1" {
		t.Fatalf("expected charge id in details, got %v", txn.Details)
	}
	if txn.Detail(DetailTransactionID) != "tok_visa" {
		t.Fatalf("expected token as transaction id, got %v", txn.Details)
	}
}

func TestStripeAuthorizeMissingToken(t *testing.T) {
	provider := newStripeTestProvider(&stubChargeAPI{}, &stubRefundAPI{})

	payment := domain.Payment{Metadata: map[string]string{"other": "x"}}
	_, err := provider.Authorize(context.Background(), stripeTestStore(), domain.Customer{}, nil,
		decimal.NewFromInt(10), payment, stripeTestConfig())
	if err == nil {
		t.Fatal("expected error for missing payment token")
	}
	var classified *Error
	if !errors.As(err, &classified) || classified.Kind != KindTransaction {
		t.Fatalf("expected transaction error, got %v", err)
	}
}

func TestStripeAuthorizeAndCaptureSetsCaptureFlag(t *testing.T) {
	charges := &stubChargeAPI{charge: &stripe.Charge{ID: "ch_2", Status: stripe.ChargeStatusSucceeded}}
	provider := newStripeTestProvider(charges, &stubRefundAPI{})

	payment := domain.Payment{
		PaymentType: domain.PaymentTypeCreditCard,
		Metadata:    map[string]string{MetaPaymentToken: "tok_visa"},
	}
	txn, err := provider.AuthorizeAndCapture(context.Background(), domain.Order{}, stripeTestStore(),
		domain.Customer{}, nil, decimal.NewFromInt(25), payment, stripeTestConfig())
	if err != nil {
		t.Fatalf("AuthorizeAndCapture returned error: %v", err)
	}
	if !*charges.newParams.Capture {
		t.Fatal("expected immediate capture")
	}
	if txn.TransactionType != domain.TransactionTypeAuthorizeCapture {
		t.Fatalf("unexpected transaction type: %s", txn.TransactionType)
	}
}

func TestStripeCaptureUsesProviderReference(t *testing.T) {
	charges := &stubChargeAPI{charge: &stripe.Charge{ID: "ch_3", Status: stripe.ChargeStatusSucceeded}}
	provider := newStripeTestProvider(charges, &stubRefundAPI{})

	order := domain.Order{ID: "order-1", Total: decimal.NewFromFloat(42.10)}
	capturable := domain.Transaction{Details: map[string]string{
		DetailProviderRef:   "ch_3",
		DetailTransactionID: "tok_visa",
	}}

	txn, err := provider.Capture(context.Background(), stripeTestStore(), domain.Customer{}, order, capturable, stripeTestConfig())
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if charges.captureID != "ch_3" {
		t.Fatalf("expected capture against ch_3, got %s", charges.captureID)
	}
	if txn.TransactionType != domain.TransactionTypeCapture {
		t.Fatalf("unexpected transaction type: %s", txn.TransactionType)
	}
	if txn.Detail(DetailTransactionID) != "tok_visa" {
		t.Fatal("capture should retain the original transaction id")
	}
	if !txn.Amount.Equal(order.Total) {
		t.Fatalf("expected capture amount %s, got %s", order.Total, txn.Amount)
	}
}

func TestStripeCaptureRequiresChargeReference(t *testing.T) {
	provider := newStripeTestProvider(&stubChargeAPI{}, &stubRefundAPI{})

	_, err := provider.Capture(context.Background(), stripeTestStore(), domain.Customer{},
		domain.Order{ID: "order-1"}, domain.Transaction{}, stripeTestConfig())
	if err == nil {
		t.Fatal("expected error for missing charge reference")
	}
}

func TestStripeRefundSendsPartialAmount(t *testing.T) {
	refunds := &stubRefundAPI{refund: &stripe.Refund{ID: "re_1"}}
	provider := newStripeTestProvider(&stubChargeAPI{}, refunds)

	order := domain.Order{ID: "order-1", Total: decimal.NewFromInt(100)}
	settled := domain.Transaction{Details: map[string]string{DetailProviderRef: "ch_9"}}

	txn, err := provider.Refund(context.Background(), true, stripeTestStore(), settled, order,
		decimal.NewFromFloat(25.50), stripeTestConfig())
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if got := *refunds.params.Charge; got != "ch_9" {
		t.Fatalf("expected refund against ch_9, got %s", got)
	}
	if got := *refunds.params.Amount; got != 2550 {
		t.Fatalf("expected refund wire amount 2550, got %d", got)
	}
	if txn.TransactionType != domain.TransactionTypeRefund {
		t.Fatalf("unexpected transaction type: %s", txn.TransactionType)
	}
	if txn.Detail(DetailProviderRef) != "re_1" {
		t.Fatalf("expected refund id in details, got %v", txn.Details)
	}
}

func TestStripeCardErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		stripe   *stripe.Error
		wantKind Kind
		wantCode string
	}{
		{
			name:     "hard decline",
			stripe:   &stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "card_declined", Msg: "declined"},
			wantKind: KindDeclined,
			wantCode: CodePaymentDeclined,
		},
		{
			name:     "invalid number via code",
			stripe:   &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeInvalidNumber, Msg: "bad number"},
			wantKind: KindValidation,
			wantCode: CodeCardNumber,
		},
		{
			name:     "invalid cvc",
			stripe:   &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeInvalidCVC, Msg: "bad cvc"},
			wantKind: KindValidation,
			wantCode: CodeCardCVC,
		},
		{
			name:     "authentication failure",
			stripe:   &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusUnauthorized, Msg: "bad key"},
			wantKind: KindTransaction,
			wantCode: CodePaymentError,
		},
		{
			name:     "malformed request",
			stripe:   &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest, Msg: "missing param"},
			wantKind: KindTransaction,
			wantCode: CodePaymentError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			charges := &stubChargeAPI{err: tc.stripe}
			provider := newStripeTestProvider(charges, &stubRefundAPI{})

			payment := domain.Payment{Metadata: map[string]string{MetaPaymentToken: "tok_visa"}}
			_, err := provider.Authorize(context.Background(), stripeTestStore(), domain.Customer{}, nil,
				decimal.NewFromInt(10), payment, stripeTestConfig())
			if err == nil {
				t.Fatal("expected classified error")
			}
			var classified *Error
			if !errors.As(err, &classified) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if classified.Kind != tc.wantKind {
				t.Fatalf("kind %s, want %s", classified.Kind, tc.wantKind)
			}
			if classified.Code != tc.wantCode {
				t.Fatalf("code %s, want %s", classified.Code, tc.wantCode)
			}
		})
	}
}

func TestStripeWireAmountFollowsDisplayRounding(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{"10", 1000},
		{"10.5", 1050},
		{"10.555", 1056},
		{"0.99", 99},
	}
	for _, tc := range cases {
		amount, err := decimal.NewFromString(tc.amount)
		if err != nil {
			t.Fatalf("bad test amount %q: %v", tc.amount, err)
		}
		got, err := stripeWireAmount(amount)
		if err != nil {
			t.Fatalf("stripeWireAmount(%s) returned error: %v", tc.amount, err)
		}
		if got != tc.want {
			t.Errorf("stripeWireAmount(%s) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}
