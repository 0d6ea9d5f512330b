package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/thisjowi/keyward"
)

const rateLimitedMessage = "Rate limit exceeded. Please try again later."

// RateLimit takes one token per request from the bucket of the client address
// and path class. Exempt paths pass through untouched. A denied request gets
// 429 with Retry-After in whole seconds; a failing bucket store gets 503.
func RateLimit(engine *keyward.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			class, exempt := engine.ClassifyPath(r.URL.Path)
			if exempt {
				next.ServeHTTP(w, r)
				return
			}

			source := keyward.ClientAddress(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
			ctx := keyward.WithClientIP(r.Context(), source)

			d, err := engine.CheckRate(ctx, source, class)
			if err != nil {
				if errors.Is(err, keyward.ErrRateLimitUnavailable) {
					writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
				writeError(w, http.StatusTooManyRequests, rateLimitedMessage)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func retryAfterSeconds(d keyward.RateDecision) int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
