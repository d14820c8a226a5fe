package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
)

const paytmModule = "paytm"

const (
	paytmInitiatePath = "/theia/api/v1/initiateTransaction"
	paytmRefundPath   = "/refund/apply"

	paytmRequestTypePayment = "Payment"
	paytmTxnTypeRefund      = "REFUND"
	paytmResultSuccess      = "S"
)

// Callback form fields posted by the gateway after the hosted payment page.
const (
	CallbackFieldOrderID     = "ORDERID"
	CallbackFieldMerchantID  = "MID"
	CallbackFieldTxnID       = "TXNID"
	CallbackFieldTxnAmount   = "TXNAMOUNT"
	CallbackFieldPaymentMode = "PAYMENTMODE"
	CallbackFieldCurrency    = "CURRENCY"
	CallbackFieldTxnDate     = "TXNDATE"
	CallbackFieldStatus      = "STATUS"
	CallbackFieldRespCode    = "RESPCODE"
	CallbackFieldRespMsg     = "RESPMSG"
	CallbackFieldGateway     = "GATEWAYNAME"
	CallbackFieldBankTxnID   = "BANKTXNID"
	CallbackFieldBankName    = "BANKNAME"
	CallbackFieldChecksum    = "CHECKSUMHASH"
	CallbackFieldStoreCode   = "UDF_1"
)

// CallbackStatusSuccess is the STATUS value reported for a completed payment.
const CallbackStatusSuccess = "TXN_SUCCESS"

type paytmTxnAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paytmUserInfo struct {
	CustomerID string `json:"custId"`
}

type paytmExtendInfo struct {
	UDF1 string `json:"udf1"`
	UDF2 string `json:"udf2,omitempty"`
}

type paytmInitiateBody struct {
	RequestType string          `json:"requestType"`
	MerchantID  string          `json:"mid"`
	WebsiteName string          `json:"websiteName"`
	OrderID     string          `json:"orderId"`
	CallbackURL string          `json:"callbackUrl"`
	TxnAmount   paytmTxnAmount  `json:"txnAmount"`
	UserInfo    paytmUserInfo   `json:"userInfo"`
	ExtendInfo  paytmExtendInfo `json:"extendInfo"`
}

type paytmRefundBody struct {
	MerchantID   string `json:"mid"`
	TxnType      string `json:"txnType"`
	OrderID      string `json:"orderId"`
	RefID        string `json:"refId"`
	TxnID        string `json:"txnId"`
	RefundAmount string `json:"refundAmount"`
}

type paytmHead struct {
	Signature string `json:"signature"`
}

type paytmEnvelope struct {
	Body json.RawMessage `json:"body"`
	Head paytmHead       `json:"head"`
}

type paytmResultInfo struct {
	ResultStatus string `json:"resultStatus"`
	ResultCode   string `json:"resultCode"`
	ResultMsg    string `json:"resultMsg"`
}

type paytmResponseBody struct {
	ResultInfo paytmResultInfo `json:"resultInfo"`
	TxnToken   string          `json:"txnToken"`
	RefundID   string          `json:"refundId"`
}

type paytmResponse struct {
	Body paytmResponseBody `json:"body"`
}

// PaytmProviderConfig configures the PaytmProvider. HTTPClient may be replaced
// in tests; the default carries a bounded timeout so a slow gateway cannot
// hold a checkout request open indefinitely.
type PaytmProviderConfig struct {
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// PaytmProvider implements the redirect payment flow: AuthorizeAndCapture
// obtains a hosted-page transaction token and records a PENDING transaction;
// the actual outcome arrives later on the merchant callback URL.
type PaytmProvider struct {
	httpClient *http.Client
	clock      func() time.Time
	logger     Logger
}

// NewPaytmProvider constructs a Paytm payment module.
func NewPaytmProvider(cfg PaytmProviderConfig) *PaytmProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaytmProvider{
		httpClient: httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

// ValidateConfiguration checks the merchant credentials, collecting every
// missing field name before failing.
func (p *PaytmProvider) ValidateConfiguration(cfg Config, _ domain.MerchantStore) error {
	if missing := cfg.RequireKeys(ConfigKeySecret, ConfigKeyMerchantID, ConfigKeyWebsite); len(missing) > 0 {
		return NewConfigurationError(paytmModule, missing)
	}
	return nil
}

// InitTransaction exposes the merchant identifier for the client-side
// checkout script. No network call is made.
func (p *PaytmProvider) InitTransaction(_ context.Context, _ domain.MerchantStore, _ domain.Customer, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error) {
	merchantID := cfg.Key(ConfigKeyMerchantID)
	if merchantID == "" {
		return domain.Transaction{}, NewTransactionError("paytm: merchant id not found in configuration", nil)
	}
	return domain.Transaction{
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeInit,
		PaymentType:     payment.PaymentType,
		Details: map[string]string{
			ConfigKeyMerchantID: merchantID,
		},
	}, nil
}

// Authorize is not part of the redirect flow; the hosted page performs the
// single-step charge confirmed by callback.
func (p *PaytmProvider) Authorize(context.Context, domain.MerchantStore, domain.Customer, []domain.CartItem, decimal.Decimal, domain.Payment, Config) (domain.Transaction, error) {
	return domain.Transaction{}, NewTransactionError("paytm: authorize is not supported by the redirect flow", nil)
}

// Capture is not part of the redirect flow; funds are collected by the
// gateway and confirmed by callback.
func (p *PaytmProvider) Capture(context.Context, domain.MerchantStore, domain.Customer, domain.Order, domain.Transaction, Config) (domain.Transaction, error) {
	return domain.Transaction{}, NewTransactionError("paytm: capture is not supported by the redirect flow", nil)
}

// AuthorizeAndCapture initiates a hosted-page transaction. The returned
// transaction is PENDING and carries the gateway token; the ledger is
// completed later when the gateway posts the callback.
func (p *PaytmProvider) AuthorizeAndCapture(ctx context.Context, order domain.Order, store domain.MerchantStore, customer domain.Customer, _ []domain.CartItem, amount decimal.Decimal, _ domain.Payment, cfg Config) (domain.Transaction, error) {
	if err := p.ValidateConfiguration(cfg, store); err != nil {
		return domain.Transaction{}, err
	}

	merchantID := cfg.Key(ConfigKeyMerchantID)
	orderID := order.ID
	body := paytmInitiateBody{
		RequestType: paytmRequestTypePayment,
		MerchantID:  merchantID,
		WebsiteName: cfg.Key(ConfigKeyWebsite),
		OrderID:     orderID,
		CallbackURL: cfg.CallbackURL,
		TxnAmount: paytmTxnAmount{
			Value:    domain.FormatAmount(amount),
			Currency: store.CurrencyCode,
		},
		UserInfo:   paytmUserInfo{CustomerID: customer.ID},
		ExtendInfo: paytmExtendInfo{UDF1: store.Code},
	}

	endpoint := fmt.Sprintf("%s%s?mid=%s&orderId=%s",
		strings.TrimSuffix(cfg.Endpoint, "/"), paytmInitiatePath,
		url.QueryEscape(merchantID), url.QueryEscape(orderID))

	resp, err := p.post(ctx, cfg, endpoint, body)
	if err != nil {
		return domain.Transaction{}, err
	}
	if resp.Body.ResultInfo.ResultStatus != paytmResultSuccess || resp.Body.TxnToken == "" {
		p.logger(ctx, "payments.paytm.initiate_rejected", map[string]any{
			"orderId":    orderID,
			"resultCode": resp.Body.ResultInfo.ResultCode,
			"resultMsg":  resp.Body.ResultInfo.ResultMsg,
		})
		return domain.Transaction{}, NewTransactionError(
			fmt.Sprintf("paytm: transaction initiation rejected: %s", resp.Body.ResultInfo.ResultCode), nil)
	}

	p.logger(ctx, "payments.paytm.initiated", map[string]any{
		"orderId": orderID,
		"status":  StatusPending,
	})

	return domain.Transaction{
		OrderID:         order.ID,
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeAuthorizeCapture,
		PaymentType:     domain.PaymentTypePaypal,
		Details: map[string]string{
			DetailInitToken:      resp.Body.TxnToken,
			DetailTransactionID:  orderID,
			DetailProviderStatus: StatusPending,
		},
	}, nil
}

// Refund applies a refund against the gateway transaction captured earlier
// through the callback.
func (p *PaytmProvider) Refund(ctx context.Context, _ bool, store domain.MerchantStore, transaction domain.Transaction, order domain.Order, amount decimal.Decimal, cfg Config) (domain.Transaction, error) {
	if err := p.ValidateConfiguration(cfg, store); err != nil {
		return domain.Transaction{}, err
	}

	txnID := transaction.Detail(DetailProviderRef)
	if txnID == "" {
		return domain.Transaction{}, NewTransactionError("paytm: refund requires the gateway transaction reference", nil)
	}

	orderID := order.ID
	body := paytmRefundBody{
		MerchantID:   cfg.Key(ConfigKeyMerchantID),
		TxnType:      paytmTxnTypeRefund,
		OrderID:      orderID,
		RefID:        fmt.Sprintf("REF-%s-%d", order.ID, p.clock().Unix()),
		TxnID:        txnID,
		RefundAmount: domain.FormatAmount(amount),
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/") + paytmRefundPath
	resp, err := p.post(ctx, cfg, endpoint, body)
	if err != nil {
		return domain.Transaction{}, err
	}
	if resp.Body.ResultInfo.ResultStatus != paytmResultSuccess {
		p.logger(ctx, "payments.paytm.refund_rejected", map[string]any{
			"orderId":    orderID,
			"resultCode": resp.Body.ResultInfo.ResultCode,
			"resultMsg":  resp.Body.ResultInfo.ResultMsg,
		})
		return domain.Transaction{}, NewTransactionError(
			fmt.Sprintf("paytm: refund rejected: %s", resp.Body.ResultInfo.ResultCode), nil)
	}

	p.logger(ctx, "payments.paytm.refunded", map[string]any{
		"orderId":  orderID,
		"refundId": resp.Body.RefundID,
	})

	return domain.Transaction{
		OrderID:         order.ID,
		Amount:          amount,
		TransactionDate: p.clock(),
		TransactionType: domain.TransactionTypeRefund,
		PaymentType:     domain.PaymentTypePaypal,
		Details: map[string]string{
			DetailTransactionID:  transaction.Detail(DetailTransactionID),
			DetailProviderRef:    resp.Body.RefundID,
			DetailProviderStatus: resp.Body.ResultInfo.ResultStatus,
		},
	}, nil
}

// post signs the request body, performs the HTTP round-trip, and decodes the
// envelope. Transport and decode failures are surfaced as transaction errors
// rather than silently producing an empty result.
func (p *PaytmProvider) post(ctx context.Context, cfg Config, endpoint string, body any) (paytmResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return paytmResponse{}, NewTransactionError("paytm: encode request body", err)
	}

	signer := NewSigner(cfg.Key(ConfigKeySecret))
	envelope := paytmEnvelope{
		Body: raw,
		Head: paytmHead{Signature: signer.Sign(raw)},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return paytmResponse{}, NewTransactionError("paytm: encode request envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return paytmResponse{}, NewTransactionError("paytm: build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger(ctx, "payments.paytm.gateway_unreachable", map[string]any{"error": err.Error()})
		return paytmResponse{}, NewTransactionError("paytm: gateway request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		p.logger(ctx, "payments.paytm.gateway_status", map[string]any{"status": httpResp.StatusCode})
		return paytmResponse{}, NewTransactionError(
			fmt.Sprintf("paytm: gateway responded with status %d", httpResp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return paytmResponse{}, NewTransactionError("paytm: read gateway response", err)
	}
	var resp paytmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return paytmResponse{}, NewTransactionError("paytm: decode gateway response", err)
	}
	return resp, nil
}
