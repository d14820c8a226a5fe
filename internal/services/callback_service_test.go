package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/repositories/memory"
)

const callbackTestSecret = "merchant-key"

type callbackFixture struct {
	svc           CallbackService
	registry      *memory.Registry
	notifications *stubNotifications
	orderID       string
}

func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()
	ctx := context.Background()

	registry := memory.NewRegistry()
	registry.SeedStore(domain.MerchantStore{Code: "DEFAULT", CurrencyCode: "INR"})

	order, err := registry.Orders().Insert(ctx, domain.Order{
		ID:                "order-1",
		StoreCode:         "DEFAULT",
		Status:            domain.OrderStatusOrdered,
		Total:             decimal.NewFromFloat(499.99),
		CustomerID:        "cust-1",
		PaymentModuleCode: "paytm",
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if _, err := registry.Transactions().Append(ctx, domain.Transaction{
		OrderID:         order.ID,
		Amount:          decimal.NewFromFloat(499.99),
		TransactionType: domain.TransactionTypeAuthorizeCapture,
		PaymentType:     domain.PaymentTypePaypal,
		Details: map[string]string{
			payments.DetailInitToken:      "tok-abc",
			payments.DetailTransactionID:  order.ID,
			payments.DetailProviderStatus: payments.StatusPending,
		},
	}); err != nil {
		t.Fatalf("seed pending transaction: %v", err)
	}

	configs := payments.NewStaticConfigResolver(map[string]map[string]payments.Config{
		"DEFAULT": {"paytm": {
			ModuleCode: "paytm",
			Keys:       map[string]string{payments.ConfigKeySecret: callbackTestSecret},
		}},
	})

	notifications := &stubNotifications{}
	svc, err := NewCallbackService(CallbackServiceDeps{
		Registry:      registry,
		Configs:       configs,
		Notifications: notifications,
		Clock:         func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		SuccessURL:    "https://shop.example.com/checkout/success",
		FailureURL:    "https://shop.example.com/checkout/failure?reason=payment",
	})
	if err != nil {
		t.Fatalf("callback service: %v", err)
	}

	return &callbackFixture{
		svc:           svc,
		registry:      registry,
		notifications: notifications,
		orderID:       order.ID,
	}
}

// signedCallback builds a complete gateway callback form with a valid checksum.
func signedCallback(orderID, status, amount, message string) map[string]string {
	fields := map[string]string{
		payments.CallbackFieldOrderID:     orderID,
		payments.CallbackFieldMerchantID:  "MID123",
		payments.CallbackFieldTxnID:       "TXN-555",
		payments.CallbackFieldTxnAmount:   amount,
		payments.CallbackFieldPaymentMode: "NB",
		payments.CallbackFieldCurrency:    "INR",
		payments.CallbackFieldTxnDate:     "2024-06-01 12:00:00.0",
		payments.CallbackFieldStatus:      status,
		payments.CallbackFieldRespCode:    "01",
		payments.CallbackFieldRespMsg:     message,
		payments.CallbackFieldGateway:     "HDFC",
		payments.CallbackFieldBankTxnID:   "BANK-777",
		payments.CallbackFieldBankName:    "HDFC Bank",
		payments.CallbackFieldStoreCode:   "DEFAULT",
	}
	signer := payments.NewSigner(callbackTestSecret)
	fields[payments.CallbackFieldChecksum] = signer.SignFields(fields, payments.CallbackFieldChecksum)
	return fields
}

func TestProcessCallbackSuccess(t *testing.T) {
	ctx := context.Background()
	fixture := newCallbackFixture(t)

	result, err := fixture.svc.ProcessCallback(ctx,
		signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success"))
	if err != nil {
		t.Fatalf("ProcessCallback returned error: %v", err)
	}
	if !result.Success || result.Replayed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(result.RedirectURL, "https://shop.example.com/checkout/success?order=") {
		t.Fatalf("unexpected redirect: %s", result.RedirectURL)
	}

	order, err := fixture.registry.Orders().FindByID(ctx, fixture.orderID)
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != domain.OrderStatusProcessed {
		t.Fatalf("expected PROCESSED, got %s", order.Status)
	}
	if len(order.History) != 1 || order.History[0].Comments != "Payment confirmed by gateway" {
		t.Fatalf("unexpected history: %+v", order.History)
	}

	ledger, err := fixture.registry.Transactions().ListByOrder(ctx, fixture.orderID)
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	if len(ledger) != 2 {
		t.Fatalf("expected the settled entry appended, got %d entries", len(ledger))
	}
	settled := ledger[1]
	if settled.Detail(payments.DetailProviderRef) != "TXN-555" {
		t.Fatalf("unexpected settled details: %v", settled.Details)
	}
	if settled.Detail(payments.DetailProviderStatus) != payments.CallbackStatusSuccess {
		t.Fatalf("unexpected settled status: %q", settled.Detail(payments.DetailProviderStatus))
	}

	if len(fixture.notifications.statusChanges) != 1 {
		t.Fatalf("expected one status notification, got %d", len(fixture.notifications.statusChanges))
	}
}

func TestProcessCallbackSettledEntryCarriesFullGatewayRecord(t *testing.T) {
	ctx := context.Background()
	fixture := newCallbackFixture(t)

	if _, err := fixture.svc.ProcessCallback(ctx,
		signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success")); err != nil {
		t.Fatalf("ProcessCallback returned error: %v", err)
	}

	ledger, err := fixture.registry.Transactions().ListByOrder(ctx, fixture.orderID)
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	settled := ledger[len(ledger)-1]

	// The initiation token from the pending entry survives reconciliation.
	if settled.Detail(payments.DetailInitToken) != "tok-abc" {
		t.Fatalf("initiation token lost, details: %v", settled.Details)
	}

	want := map[string]string{
		payments.CallbackFieldMerchantID:  "MID123",
		payments.CallbackFieldPaymentMode: "NB",
		payments.CallbackFieldCurrency:    "INR",
		payments.CallbackFieldTxnDate:     "2024-06-01 12:00:00.0",
		payments.CallbackFieldRespCode:    "01",
		payments.CallbackFieldGateway:     "HDFC",
		payments.CallbackFieldBankTxnID:   "BANK-777",
		payments.CallbackFieldBankName:    "HDFC Bank",
	}
	for key, value := range want {
		if settled.Detail(key) != value {
			t.Fatalf("settled detail %s is %q, want %q", key, settled.Detail(key), value)
		}
	}
}

func TestProcessCallbackRejectsIncompletePayload(t *testing.T) {
	fixture := newCallbackFixture(t)

	for _, field := range []string{
		payments.CallbackFieldTxnID,
		payments.CallbackFieldPaymentMode,
		payments.CallbackFieldTxnDate,
		payments.CallbackFieldRespCode,
		payments.CallbackFieldBankTxnID,
	} {
		fields := signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success")
		delete(fields, field)

		_, err := fixture.svc.ProcessCallback(context.Background(), fields)
		if !errors.Is(err, ErrCallbackFieldsMissing) {
			t.Fatalf("without %s: expected ErrCallbackFieldsMissing, got %v", field, err)
		}
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error must name the missing field %s, got %q", field, err.Error())
		}
	}
}

func TestProcessCallbackFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	fixture := newCallbackFixture(t)

	result, err := fixture.svc.ProcessCallback(ctx,
		signedCallback(fixture.orderID, "TXN_FAILURE", "499.99", "Insufficient funds"))
	if err != nil {
		t.Fatalf("ProcessCallback returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected a failed outcome")
	}
	if !strings.HasPrefix(result.RedirectURL, "https://shop.example.com/checkout/failure?reason=payment&order=") {
		t.Fatalf("unexpected redirect: %s", result.RedirectURL)
	}

	order, err := fixture.registry.Orders().FindByID(ctx, fixture.orderID)
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != domain.OrderStatusOrdered {
		t.Fatalf("failed payment must not advance the order, got %s", order.Status)
	}
	if len(order.History) != 1 || !strings.HasPrefix(order.History[0].Comments, "Payment failed:") {
		t.Fatalf("expected a failure history entry, got %+v", order.History)
	}
	if len(fixture.notifications.statusChanges) != 0 {
		t.Fatal("failed payment must not notify the customer")
	}
}

func TestProcessCallbackReplayReturnsOriginalOutcome(t *testing.T) {
	ctx := context.Background()
	fixture := newCallbackFixture(t)
	fields := signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success")

	if _, err := fixture.svc.ProcessCallback(ctx, fields); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	result, err := fixture.svc.ProcessCallback(ctx, fields)
	if err != nil {
		t.Fatalf("replay callback failed: %v", err)
	}
	if !result.Replayed || !result.Success {
		t.Fatalf("expected a successful replay, got %+v", result)
	}

	ledger, err := fixture.registry.Transactions().ListByOrder(ctx, fixture.orderID)
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	if len(ledger) != 2 {
		t.Fatalf("replay must not append to the ledger, got %d entries", len(ledger))
	}
}

func TestProcessCallbackMissingStoreFailsClosed(t *testing.T) {
	fixture := newCallbackFixture(t)

	fields := signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success")
	delete(fields, payments.CallbackFieldStoreCode)

	_, err := fixture.svc.ProcessCallback(context.Background(), fields)
	if !errors.Is(err, ErrCallbackStoreMissing) {
		t.Fatalf("expected ErrCallbackStoreMissing, got %v", err)
	}
}

func TestProcessCallbackBadChecksum(t *testing.T) {
	fixture := newCallbackFixture(t)

	fields := signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "499.99", "Txn Success")
	fields[payments.CallbackFieldTxnAmount] = "1.00"

	_, err := fixture.svc.ProcessCallback(context.Background(), fields)
	if !errors.Is(err, ErrCallbackSignature) {
		t.Fatalf("expected ErrCallbackSignature, got %v", err)
	}
}

func TestProcessCallbackUnknownOrder(t *testing.T) {
	fixture := newCallbackFixture(t)

	_, err := fixture.svc.ProcessCallback(context.Background(),
		signedCallback("order-unknown", payments.CallbackStatusSuccess, "499.99", "Txn Success"))
	if !errors.Is(err, ErrCallbackOrderUnknown) {
		t.Fatalf("expected ErrCallbackOrderUnknown, got %v", err)
	}
}

func TestProcessCallbackAmountMismatch(t *testing.T) {
	ctx := context.Background()
	fixture := newCallbackFixture(t)

	_, err := fixture.svc.ProcessCallback(ctx,
		signedCallback(fixture.orderID, payments.CallbackStatusSuccess, "1.00", "Txn Success"))
	if !errors.Is(err, ErrCallbackAmountMismatch) {
		t.Fatalf("expected ErrCallbackAmountMismatch, got %v", err)
	}

	// The pending entry stays pending for a later, correct callback.
	if _, err := fixture.registry.Transactions().PendingByOrder(ctx, fixture.orderID); err != nil {
		t.Fatalf("pending transaction disappeared: %v", err)
	}
}
