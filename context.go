package keyward

import "context"

type clientIPContextKey struct{}
type identityIDContextKey struct{}

// WithClientIP attaches the caller's address to ctx. The Engine copies it into
// audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithIdentityID attaches a verified identity id to ctx. Middleware sets it
// after VerifyBearer succeeds.
func WithIdentityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, identityIDContextKey{}, id)
}

// IdentityIDFromContext returns the identity id stored by WithIdentityID.
func IdentityIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(identityIDContextKey{}).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
