package rate

import (
	"context"
	"errors"
	"fmt"
)

// Limiter applies class policies to a bucket Store.
type Limiter struct {
	store    Store
	policies map[Class]Policy
	routes   []Route
}

// New creates a Limiter. nil policies or routes take the defaults. A policy
// for ClassDefault is required.
func New(store Store, policies map[Class]Policy, routes []Route) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limiter requires a store")
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	if routes == nil {
		routes = DefaultRoutes()
	}
	if _, ok := policies[ClassDefault]; !ok {
		return nil, errors.New("rate limiter requires a default policy")
	}
	copied := make(map[Class]Policy, len(policies))
	for class, p := range policies {
		if p.Capacity <= 0 || p.Period <= 0 {
			return nil, fmt.Errorf("rate policy %q needs positive capacity and period", class)
		}
		copied[class] = p
	}
	for _, r := range routes {
		if _, ok := copied[r.Class]; !ok {
			return nil, fmt.Errorf("rate route %q references %w %q", r.Pattern, ErrUnknownClass, r.Class)
		}
	}
	return &Limiter{store: store, policies: copied, routes: append([]Route(nil), routes...)}, nil
}

// Classify maps a request path to its class using the limiter's routes.
func (l *Limiter) Classify(path string) (Class, bool) {
	return Classify(path, l.routes)
}

// Policy returns the policy of class.
func (l *Limiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// TryConsume takes one token from the bucket of (class, source).
func (l *Limiter) TryConsume(ctx context.Context, source string, class Class) (Decision, error) {
	p, ok := l.policies[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	if source == "" {
		source = "unknown"
	}
	return l.store.Take(ctx, bucketKey(class, source), p)
}

func bucketKey(class Class, source string) string {
	return string(class) + "|" + source
}
