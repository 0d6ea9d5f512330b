package keyward

import (
	"context"
	"errors"
	"fmt"

	"github.com/thisjowi/keyward/internal/rate"
)

// Rate limit classes.
const (
	RateClassLogin          = string(rate.ClassLogin)
	RateClassRegister       = string(rate.ClassRegister)
	RateClassChangePassword = string(rate.ClassChangePassword)
	RateClassDefault        = string(rate.ClassDefault)
)

// ClassifyPath maps a request path to its rate class. exempt is true for
// health and documentation paths, which are never limited.
func (e *Engine) ClassifyPath(path string) (class string, exempt bool) {
	if e == nil || e.rateLimiter == nil {
		c, ex := rate.Classify(path, rate.DefaultRoutes())
		return string(c), ex
	}
	c, ex := e.rateLimiter.Classify(path)
	return string(c), ex
}

// ClientAddress picks the bucket key of a request: the first X-Forwarded-For
// entry, then X-Real-IP, then the peer address without its port.
func ClientAddress(forwardedFor, realIP, remoteAddr string) string {
	return rate.ClientAddress(forwardedFor, realIP, remoteAddr)
}

// CheckRate takes one token from the bucket of (source, class). A denied
// decision carries RetryAfter. An error wrapping ErrRateLimitUnavailable means
// the store could not answer; the request must not proceed. With rate limiting
// disabled every call is allowed.
func (e *Engine) CheckRate(ctx context.Context, source, class string) (RateDecision, error) {
	if e == nil {
		return RateDecision{}, ErrEngineNotReady
	}
	if e.rateLimiter == nil {
		return RateDecision{Allowed: true, Class: class}, nil
	}

	d, err := e.rateLimiter.TryConsume(ctx, source, rate.Class(class))
	if errors.Is(err, rate.ErrUnknownClass) {
		return RateDecision{Class: class}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
		e.emitRateLimit(ctx, class, source, err)
		e.logger.WarnContext(ctx, "rate limit store failed", "class", class, "error", err)
		return RateDecision{Class: class}, err
	}
	if !d.Allowed {
		e.emitRateLimit(ctx, class, source, ErrRateLimited)
	}
	return RateDecision{
		Allowed:    d.Allowed,
		Class:      class,
		Remaining:  d.Remaining,
		RetryAfter: d.RetryAfter,
	}, nil
}
