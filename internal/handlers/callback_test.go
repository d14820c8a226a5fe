package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/services"
)

type stubCallbackService struct {
	processFn func(ctx context.Context, fields map[string]string) (services.CallbackResult, error)
}

func (s *stubCallbackService) ProcessCallback(ctx context.Context, fields map[string]string) (services.CallbackResult, error) {
	return s.processFn(ctx, fields)
}

func newCallbackTestRouter(svc services.CallbackService) http.Handler {
	return NewRouter(WithCallbackRoutes(NewCallbackHandlers(svc).Routes))
}

func postCallbackForm(router http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/payment", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentCallbackRedirectsOnSuccess(t *testing.T) {
	var gotFields map[string]string
	svc := &stubCallbackService{
		processFn: func(_ context.Context, fields map[string]string) (services.CallbackResult, error) {
			gotFields = fields
			return services.CallbackResult{
				OrderID:     "order-1",
				Success:     true,
				RedirectURL: "https://shop.example.com/checkout/success?order=order-1",
			}, nil
		},
	}
	router := newCallbackTestRouter(svc)

	form := url.Values{}
	form.Set(payments.CallbackFieldOrderID, "order-1")
	form.Set(payments.CallbackFieldStatus, payments.CallbackStatusSuccess)
	form.Set(payments.CallbackFieldTxnAmount, "499.99")

	rec := postCallbackForm(router, form)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/checkout/success?order=order-1" {
		t.Fatalf("unexpected redirect location %q", loc)
	}
	if gotFields[payments.CallbackFieldOrderID] != "order-1" {
		t.Fatalf("form fields not forwarded: %v", gotFields)
	}
	if gotFields[payments.CallbackFieldTxnAmount] != "499.99" {
		t.Fatalf("amount field not forwarded: %v", gotFields)
	}
}

func TestPaymentCallbackSignatureFailure(t *testing.T) {
	svc := &stubCallbackService{
		processFn: func(context.Context, map[string]string) (services.CallbackResult, error) {
			return services.CallbackResult{}, services.ErrCallbackSignature
		},
	}
	router := newCallbackTestRouter(svc)

	rec := postCallbackForm(router, url.Values{payments.CallbackFieldOrderID: {"order-1"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if payload := decodeJSONBody(t, rec); payload["error"] != "invalid_signature" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}

func TestPaymentCallbackErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"store missing", services.ErrCallbackStoreMissing, http.StatusBadRequest, "invalid_callback"},
		{"amount mismatch", services.ErrCallbackAmountMismatch, http.StatusBadRequest, "invalid_callback"},
		{"unknown order", services.ErrCallbackOrderUnknown, http.StatusNotFound, "order_not_found"},
		{"unexpected", context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCallbackService{
				processFn: func(context.Context, map[string]string) (services.CallbackResult, error) {
					return services.CallbackResult{}, tc.err
				},
			}
			router := newCallbackTestRouter(svc)

			rec := postCallbackForm(router, url.Values{payments.CallbackFieldOrderID: {"order-1"}})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", rec.Code, tc.wantStatus)
			}
			if payload := decodeJSONBody(t, rec); payload["error"] != tc.wantCode {
				t.Fatalf("unexpected error code: %v", payload["error"])
			}
		})
	}
}

func TestPaymentCallbackRateLimitPerClient(t *testing.T) {
	handler := &CallbackHandlers{
		callbacks: &stubCallbackService{
			processFn: func(context.Context, map[string]string) (services.CallbackResult, error) {
				return services.CallbackResult{RedirectURL: "https://shop.example.com/checkout/success"}, nil
			},
		},
		limiter: newSimpleRateLimiter(3, time.Minute, nil),
	}
	router := NewRouter(WithCallbackRoutes(handler.Routes))

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/payment", strings.NewReader("ORDERID=order-1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := send("203.0.113.7"); code != http.StatusSeeOther {
			t.Fatalf("request %d: status %d, want 303", i+1, code)
		}
	}
	if code := send("203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("over-limit request: status %d, want 429", code)
	}
	// A different client is not affected by the first client's budget.
	if code := send("198.51.100.9"); code != http.StatusSeeOther {
		t.Fatalf("second client: status %d, want 303", code)
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("client") || !limiter.Allow("client") {
		t.Fatal("expected first two requests allowed")
	}
	if limiter.Allow("client") {
		t.Fatal("expected third request rejected")
	}

	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("client") {
		t.Fatal("expected a fresh window after the reset time")
	}
}
