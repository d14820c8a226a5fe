package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/repositories"
)

var (
	// ErrCallbackStoreMissing indicates the callback did not carry the store code field.
	ErrCallbackStoreMissing = errors.New("callback: store identifier missing")
	// ErrCallbackSignature indicates the callback checksum did not verify.
	ErrCallbackSignature = errors.New("callback: checksum verification failed")
	// ErrCallbackOrderUnknown indicates the callback references an unknown order.
	ErrCallbackOrderUnknown = errors.New("callback: unknown order")
	// ErrCallbackFieldsMissing indicates the callback omitted part of the documented field set.
	ErrCallbackFieldsMissing = errors.New("callback: required fields missing")
	// ErrCallbackAmountMismatch indicates the callback amount does not match the pending transaction.
	ErrCallbackAmountMismatch = errors.New("callback: amount does not match pending transaction")
)

// callbackRequiredFields is the complete documented callback payload. A
// gateway callback missing any of them is rejected outright.
var callbackRequiredFields = []string{
	payments.CallbackFieldOrderID,
	payments.CallbackFieldMerchantID,
	payments.CallbackFieldTxnID,
	payments.CallbackFieldTxnAmount,
	payments.CallbackFieldPaymentMode,
	payments.CallbackFieldCurrency,
	payments.CallbackFieldTxnDate,
	payments.CallbackFieldStatus,
	payments.CallbackFieldRespCode,
	payments.CallbackFieldRespMsg,
	payments.CallbackFieldGateway,
	payments.CallbackFieldBankTxnID,
	payments.CallbackFieldBankName,
	payments.CallbackFieldChecksum,
	payments.CallbackFieldStoreCode,
}

// CallbackServiceDeps wires the dependencies required by the callback service.
type CallbackServiceDeps struct {
	Registry      repositories.Registry
	Configs       payments.ConfigResolver
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)

	// SuccessURL and FailureURL are the storefront pages the shopper lands on
	// after reconciliation; the order id is appended as a query parameter.
	SuccessURL string
	FailureURL string
}

type callbackService struct {
	registry      repositories.Registry
	configs       payments.ConfigResolver
	notifications NotificationService
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	successURL    string
	failureURL    string
}

// NewCallbackService constructs a CallbackService validating required dependencies.
func NewCallbackService(deps CallbackServiceDeps) (CallbackService, error) {
	if deps.Registry == nil {
		return nil, errors.New("callback service: repository registry is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("callback service: payment config resolver is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.FailureURL) == "" {
		return nil, errors.New("callback service: success and failure URLs are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &callbackService{
		registry:      deps.Registry,
		configs:       deps.Configs,
		notifications: deps.Notifications,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		successURL: strings.TrimSpace(deps.SuccessURL),
		failureURL: strings.TrimSpace(deps.FailureURL),
	}, nil
}

// ProcessCallback reconciles a gateway callback against the order's pending
// transaction. The store code travels in the callback itself; a callback that
// cannot name its store is rejected rather than matched by guesswork. Replays
// of an already-settled callback return the original outcome without touching
// the ledger again.
func (s *callbackService) ProcessCallback(ctx context.Context, fields map[string]string) (CallbackResult, error) {
	if s == nil || s.registry == nil {
		return CallbackResult{}, ErrOrderUnavailable
	}

	orderID := strings.TrimSpace(fields[payments.CallbackFieldOrderID])
	ctx, span := startSpan(ctx, "CallbackService.ProcessCallback",
		attribute.String("order.id", orderID))
	defer span.End()

	storeCode := strings.TrimSpace(fields[payments.CallbackFieldStoreCode])
	if storeCode == "" {
		s.logger(ctx, "callback.store_missing", map[string]any{"orderId": orderID})
		return CallbackResult{}, ErrCallbackStoreMissing
	}

	var missing []string
	for _, name := range callbackRequiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		s.logger(ctx, "callback.fields_missing", map[string]any{
			"orderId": orderID,
			"fields":  missing,
		})
		return CallbackResult{}, fmt.Errorf("%w: %s", ErrCallbackFieldsMissing, strings.Join(missing, ", "))
	}

	order, err := s.registry.Orders().FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CallbackResult{}, ErrCallbackOrderUnknown
		}
		return CallbackResult{}, err
	}

	cfg, err := s.configs.PaymentConfiguration(ctx, storeCode, order.PaymentModuleCode)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("callback: resolve payment configuration: %w", err)
	}

	signer := payments.NewSigner(cfg.Key(payments.ConfigKeySecret))
	checksum := fields[payments.CallbackFieldChecksum]
	if !signer.VerifyFields(fields, payments.CallbackFieldChecksum, checksum) {
		s.logger(ctx, "callback.checksum_invalid", map[string]any{
			"orderId":   orderID,
			"storeCode": storeCode,
		})
		return CallbackResult{}, ErrCallbackSignature
	}

	pending, err := s.registry.Transactions().PendingByOrder(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return s.replayOutcome(ctx, order)
		}
		return CallbackResult{}, err
	}

	amount := strings.TrimSpace(fields[payments.CallbackFieldTxnAmount])
	if amount != domain.FormatAmount(pending.Amount) {
		s.logger(ctx, "callback.amount_mismatch", map[string]any{
			"orderId":  orderID,
			"reported": amount,
			"pending":  domain.FormatAmount(pending.Amount),
		})
		return CallbackResult{}, ErrCallbackAmountMismatch
	}

	success := strings.TrimSpace(fields[payments.CallbackFieldStatus]) == payments.CallbackStatusSuccess

	// The settled entry inherits the pending details, so the initiation token
	// survives reconciliation, then layers every reported gateway field on top.
	details := pending.CloneDetails()
	details[payments.DetailTransactionID] = orderID
	details[payments.DetailProviderRef] = strings.TrimSpace(fields[payments.CallbackFieldTxnID])
	details[payments.DetailProviderStatus] = strings.TrimSpace(fields[payments.CallbackFieldStatus])
	details[payments.DetailMessage] = strings.TrimSpace(fields[payments.CallbackFieldRespMsg])
	for _, name := range []string{
		payments.CallbackFieldMerchantID,
		payments.CallbackFieldPaymentMode,
		payments.CallbackFieldCurrency,
		payments.CallbackFieldTxnDate,
		payments.CallbackFieldRespCode,
		payments.CallbackFieldGateway,
		payments.CallbackFieldBankTxnID,
		payments.CallbackFieldBankName,
	} {
		details[name] = strings.TrimSpace(fields[name])
	}

	settled := domain.Transaction{
		OrderID:         orderID,
		Amount:          pending.Amount,
		TransactionDate: s.now(),
		TransactionType: domain.TransactionTypeAuthorizeCapture,
		PaymentType:     pending.PaymentType,
		Details:         details,
	}

	err = s.registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.registry.Transactions().Append(ctx, settled); err != nil {
			return err
		}
		if !success {
			return s.registry.Orders().AppendStatusHistory(ctx, orderID, domain.OrderStatusHistory{
				Status:    order.Status,
				Comments:  fmt.Sprintf("Payment failed: %s", strings.TrimSpace(fields[payments.CallbackFieldRespMsg])),
				DateAdded: s.now(),
			})
		}

		current, err := s.registry.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		current.Status = domain.OrderStatusProcessed
		if _, err := s.registry.Orders().Update(ctx, current); err != nil {
			return err
		}
		return s.registry.Orders().AppendStatusHistory(ctx, orderID, domain.OrderStatusHistory{
			Status:    domain.OrderStatusProcessed,
			Comments:  "Payment confirmed by gateway",
			DateAdded: s.now(),
		})
	})
	if err != nil {
		return CallbackResult{}, err
	}

	s.logger(ctx, "callback.processed", map[string]any{
		"orderId": orderID,
		"success": success,
	})

	if success && s.notifications != nil {
		if store, storeErr := s.registry.Stores().FindByCode(ctx, storeCode); storeErr == nil {
			s.notifications.QueueStatusChange(ctx, order, store, domain.OrderStatusProcessed)
		}
	}

	return CallbackResult{
		OrderID:     orderID,
		Success:     success,
		RedirectURL: s.redirectURL(orderID, success),
	}, nil
}

// replayOutcome reports the already-settled result when the gateway retries a
// callback the ledger has consumed.
func (s *callbackService) replayOutcome(ctx context.Context, order domain.Order) (CallbackResult, error) {
	last, err := s.registry.Transactions().LastByOrder(ctx, order.ID)
	if err != nil {
		return CallbackResult{}, ErrCallbackOrderUnknown
	}
	success := last.Detail(payments.DetailProviderStatus) == payments.CallbackStatusSuccess
	s.logger(ctx, "callback.replayed", map[string]any{
		"orderId": order.ID,
		"success": success,
	})
	return CallbackResult{
		OrderID:     order.ID,
		Success:     success,
		Replayed:    true,
		RedirectURL: s.redirectURL(order.ID, success),
	}, nil
}

func (s *callbackService) redirectURL(orderID string, success bool) string {
	base := s.failureURL
	if success {
		base = s.successURL
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sorder=%s", base, sep, orderID)
}
