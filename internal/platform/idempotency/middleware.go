package idempotency

import (
	"net/http"
	"strings"

	"github.com/commercekit/storefront/internal/platform/requestctx"
)

// HeaderName is the request header carrying the client-supplied idempotency key.
const HeaderName = "Idempotency-Key"

// KeyMiddleware extracts the idempotency key header and stores it on the
// request context. Replay decisions belong to the services that own the
// operation, because only they know what result to reproduce.
func KeyMiddleware(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderName))
		if key != "" {
			r = r.WithContext(requestctx.WithIdempotencyKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}
