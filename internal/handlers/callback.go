package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commercekit/storefront/internal/platform/httpx"
	"github.com/commercekit/storefront/internal/services"
)

const (
	maxCallbackBodySize = 32 * 1024

	// Gateways retry failed callbacks aggressively; anything past this per
	// client is noise or abuse.
	callbackRateLimit  = 60
	callbackRateWindow = time.Minute
)

// CallbackHandlers receives redirect-provider gateway callbacks posted as
// form data and redirects the shopper to the reconciled outcome page.
type CallbackHandlers struct {
	callbacks services.CallbackService
	limiter   rateLimiter
}

// NewCallbackHandlers constructs a new CallbackHandlers instance.
func NewCallbackHandlers(callbacks services.CallbackService) *CallbackHandlers {
	return &CallbackHandlers{
		callbacks: callbacks,
		limiter:   newSimpleRateLimiter(callbackRateLimit, callbackRateWindow, nil),
	}
}

// Routes registers the gateway callback endpoint.
func (h *CallbackHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentCallback)
}

func (h *CallbackHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.callbacks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("callback_service_unavailable", "callback service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(callbackClientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many callback requests", http.StatusTooManyRequests))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "callback must be form encoded", http.StatusBadRequest))
		return
	}

	fields := make(map[string]string, len(r.PostForm))
	for name := range r.PostForm {
		fields[name] = r.PostForm.Get(name)
	}

	result, err := h.callbacks.ProcessCallback(ctx, fields)
	if err != nil {
		writeCallbackError(ctx, w, err)
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
}

func callbackClientKey(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeCallbackError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCallbackStoreMissing),
		errors.Is(err, services.ErrCallbackFieldsMissing),
		errors.Is(err, services.ErrCallbackAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCallbackSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "callback signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCallbackOrderUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "callback references an unknown order", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
