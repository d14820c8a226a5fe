package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/platform/httpx"
	"github.com/commercekit/storefront/internal/platform/pagination"
	"github.com/commercekit/storefront/internal/platform/requestctx"
	"github.com/commercekit/storefront/internal/services"
)

const maxOrderBodySize = 64 * 1024

type addressRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Company       string `json:"company"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	StateProvince string `json:"state_province"`
	Zone          string `json:"zone"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
}

type customerRequest struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Billing  addressRequest  `json:"billing"`
	Delivery *addressRequest `json:"delivery"`
	Language string          `json:"language"`
}

type paymentRequest struct {
	Type            string            `json:"type"`
	Module          string            `json:"module"`
	TransactionType string            `json:"transaction_type"`
	Amount          string            `json:"amount"`
	Metadata        map[string]string `json:"metadata"`
}

type creditCardRequest struct {
	Owner       string `json:"owner"`
	Number      string `json:"number"`
	CVC         string `json:"cvc"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CardType    string `json:"card_type"`
}

type shippingRequest struct {
	Module        string `json:"module"`
	OptionCode    string `json:"option_code"`
	OptionName    string `json:"option_name"`
	Shipping      string `json:"shipping"`
	Handling      string `json:"handling"`
	FreeShipping  bool   `json:"free_shipping"`
	TaxOnShipping bool   `json:"tax_on_shipping"`
}

type commitOrderRequest struct {
	StoreCode  string             `json:"store_code"`
	CartCode   string             `json:"cart_code"`
	Customer   customerRequest    `json:"customer"`
	Payment    paymentRequest     `json:"payment"`
	CreditCard *creditCardRequest `json:"credit_card"`
	Shipping   *shippingRequest   `json:"shipping"`
}

type refundOrderRequest struct {
	StoreCode string `json:"store_code"`
	Amount    string `json:"amount"`
	Partial   bool   `json:"partial"`
}

type orderStatusRequest struct {
	StoreCode string `json:"store_code"`
	Status    string `json:"status"`
	Comments  string `json:"comments"`
	Notify    bool   `json:"notify"`
}

type orderTotalResponse struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Value     string `json:"value"`
	SortOrder int    `json:"sort_order"`
}

type orderResponse struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	Status        string               `json:"status"`
	StoreCode     string               `json:"store_code"`
	Currency      string               `json:"currency"`
	Total         string               `json:"total"`
	DatePurchased string               `json:"date_purchased"`
	PaymentType   string               `json:"payment_type"`
	PaymentModule string               `json:"payment_module"`
	Totals        []orderTotalResponse `json:"totals"`
}

type orderListResponse struct {
	Items         []orderResponse `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type transactionResponse struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	Amount          string            `json:"amount"`
	TransactionType string            `json:"transaction_type"`
	PaymentType     string            `json:"payment_type"`
	TransactionDate string            `json:"transaction_date"`
	Details         map[string]string `json:"details,omitempty"`
}

// OrderHandlers exposes the order commit workflow and post-commit money
// movement over HTTP.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.commitOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/next-transaction", h.nextTransaction)
	r.Post("/{orderID}:capture", h.captureOrder)
	r.Post("/{orderID}:refund", h.refundOrder)
	r.Put("/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) commitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req commitOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize)).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CommitOrderCommand{
		StoreCode:      strings.TrimSpace(req.StoreCode),
		CartCode:       strings.TrimSpace(req.CartCode),
		Customer:       req.Customer.toDomain(),
		SubmittedTotal: strings.TrimSpace(req.Payment.Amount),
		IdempotencyKey: requestctx.IdempotencyKey(ctx),
	}
	cmd.Payment = domain.Payment{
		PaymentType:     domain.PaymentType(strings.ToUpper(strings.TrimSpace(req.Payment.Type))),
		TransactionType: domain.TransactionType(strings.ToUpper(strings.TrimSpace(req.Payment.TransactionType))),
		ModuleName:      strings.TrimSpace(req.Payment.Module),
		Metadata:        req.Payment.Metadata,
	}
	if cmd.Payment.TransactionType == "" {
		cmd.Payment.TransactionType = domain.TransactionTypeAuthorizeCapture
	}
	if req.CreditCard != nil {
		cmd.CreditCard = &domain.CreditCardPayment{
			Payment:          cmd.Payment,
			CardOwner:        strings.TrimSpace(req.CreditCard.Owner),
			CardNumber:       strings.TrimSpace(req.CreditCard.Number),
			ValidationNumber: strings.TrimSpace(req.CreditCard.CVC),
			ExpirationMonth:  strings.TrimSpace(req.CreditCard.ExpiryMonth),
			ExpirationYear:   strings.TrimSpace(req.CreditCard.ExpiryYear),
			CardType:         domain.CreditCardType(strings.ToUpper(strings.TrimSpace(req.CreditCard.CardType))),
		}
	}
	if req.Shipping != nil {
		summary, err := req.Shipping.toDomain()
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping amounts must be decimal strings", http.StatusBadRequest))
			return
		}
		cmd.Shipping = &summary
	}

	order, err := h.orders.CommitOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toOrderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 20, MaxPageSize: 100})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.OrderListQuery{
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer")),
		StartAfter: params.Cursor.StartAfter,
		Limit:      params.PageSize + 1,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToUpper(raw))
		query.Status = &status
	}

	orders, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	nextToken := ""
	if len(orders) > params.PageSize {
		orders = orders[:params.PageSize]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: orders[len(orders)-1].ID})
		if err == nil {
			nextToken = token
		}
	}

	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, toOrderResponse(order))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(orderListResponse{Items: items, NextPageToken: nextToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toOrderResponse(order))
}

func (h *OrderHandlers) nextTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next, err := h.orders.NextTransaction(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"next_transaction": string(next)})
}

func (h *OrderHandlers) captureOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeCode := strings.TrimSpace(r.URL.Query().Get("store"))
	transaction, err := h.orders.CaptureOrder(ctx, storeCode, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTransactionResponse(transaction))
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refundOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize)).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	amount := decimal.Zero
	if strings.TrimSpace(req.Amount) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal string", http.StatusBadRequest))
			return
		}
		amount = parsed
	}

	transaction, err := h.orders.RefundOrder(ctx, services.RefundOrderCommand{
		StoreCode: strings.TrimSpace(req.StoreCode),
		OrderID:   chi.URLParam(r, "orderID"),
		Amount:    amount,
		Partial:   req.Partial,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTransactionResponse(transaction))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req orderStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize)).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		StoreCode:      strings.TrimSpace(req.StoreCode),
		OrderID:        chi.URLParam(r, "orderID"),
		Status:         domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Comments:       strings.TrimSpace(req.Comments),
		NotifyCustomer: req.Notify,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c customerRequest) toDomain() domain.Customer {
	customer := domain.Customer{
		ID:           strings.TrimSpace(c.ID),
		Email:        strings.TrimSpace(c.Email),
		Billing:      c.Billing.toDomain(),
		LanguageCode: strings.TrimSpace(c.Language),
	}
	if c.Delivery != nil {
		customer.Delivery = c.Delivery.toDomain()
	} else {
		customer.Delivery = customer.Billing
	}
	return customer
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FirstName:     strings.TrimSpace(a.FirstName),
		LastName:      strings.TrimSpace(a.LastName),
		Company:       strings.TrimSpace(a.Company),
		StreetAddress: strings.TrimSpace(a.Address),
		City:          strings.TrimSpace(a.City),
		PostalCode:    strings.TrimSpace(a.PostalCode),
		StateProvince: strings.TrimSpace(a.StateProvince),
		Zone:          strings.TrimSpace(a.Zone),
		Country:       strings.TrimSpace(a.Country),
		Phone:         strings.TrimSpace(a.Phone),
	}
}

func (s shippingRequest) toDomain() (domain.ShippingSummary, error) {
	summary := domain.ShippingSummary{
		ShippingModule: strings.TrimSpace(s.Module),
		OptionCode:     strings.TrimSpace(s.OptionCode),
		OptionName:     strings.TrimSpace(s.OptionName),
		FreeShipping:   s.FreeShipping,
		TaxOnShipping:  s.TaxOnShipping,
	}
	if raw := strings.TrimSpace(s.Shipping); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.ShippingSummary{}, err
		}
		summary.Shipping = value
	}
	if raw := strings.TrimSpace(s.Handling); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.ShippingSummary{}, err
		}
		summary.Handling = value
	}
	return summary, nil
}

func toOrderResponse(order domain.Order) orderResponse {
	totals := make([]orderTotalResponse, 0, len(order.Totals))
	for _, t := range order.Totals {
		totals = append(totals, orderTotalResponse{
			Code:      t.Code,
			Title:     t.Title,
			Value:     domain.FormatAmount(t.Value),
			SortOrder: t.SortOrder,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		StoreCode:     order.StoreCode,
		Currency:      order.CurrencyCode,
		Total:         domain.FormatAmount(order.Total),
		DatePurchased: order.DatePurchased.Format("2006-01-02T15:04:05Z07:00"),
		PaymentType:   string(order.PaymentType),
		PaymentModule: order.PaymentModuleCode,
		Totals:        totals,
	}
}

func toTransactionResponse(transaction domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:              transaction.ID,
		OrderID:         transaction.OrderID,
		Amount:          domain.FormatAmount(transaction.Amount),
		TransactionType: string(transaction.TransactionType),
		PaymentType:     string(transaction.PaymentType),
		TransactionDate: transaction.TransactionDate.Format("2006-01-02T15:04:05Z07:00"),
		Details:         transaction.Details,
	}
}

// writeOrderError maps workflow errors onto the JSON error envelope.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		httpx.WriteError(ctx, w, httpx.
			NewError("validation_failed", "one or more fields are missing or invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validationErr.Fields}))
		return
	}

	var paymentErr *payments.Error
	if errors.As(err, &paymentErr) {
		switch paymentErr.Kind {
		case payments.KindValidation:
			details := map[string]any{"code": paymentErr.Code}
			if len(paymentErr.Fields) > 0 {
				details["fields"] = paymentErr.Fields
			}
			httpx.WriteError(ctx, w, httpx.
				NewError("payment_validation_failed", paymentErr.Message, http.StatusBadRequest).
				WithDetails(details))
		case payments.KindDeclined:
			httpx.WriteError(ctx, w, httpx.
				NewError("payment_declined", paymentErr.Message, http.StatusPaymentRequired).
				WithDetails(map[string]any{"code": paymentErr.Code}))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be processed", http.StatusBadGateway))
		}
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartAlreadyOrdered),
		errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrCommitInProgress),
		errors.Is(err, services.ErrInvalidStatusTransition):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
