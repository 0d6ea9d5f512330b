package rate

import (
	"net"
	"strings"
	"time"
)

// Class names a group of endpoints that share a bucket policy.
type Class string

const (
	ClassLogin          Class = "login"
	ClassRegister       Class = "register"
	ClassChangePassword Class = "change-password"
	ClassDefault        Class = "default"
)

// Policy is the bucket size and refill interval of a class.
type Policy struct {
	Capacity int
	Period   time.Duration
}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassLogin:          {Capacity: 5, Period: time.Minute},
		ClassRegister:       {Capacity: 3, Period: time.Minute},
		ClassChangePassword: {Capacity: 3, Period: time.Minute},
		ClassDefault:        {Capacity: 100, Period: time.Minute},
	}
}

// Route maps request paths containing Pattern to Class.
type Route struct {
	Pattern string
	Class   Class
}

// DefaultRoutes returns the built-in path table.
func DefaultRoutes() []Route {
	return []Route{
		{Pattern: "/auth/login", Class: ClassLogin},
		{Pattern: "/auth/register", Class: ClassRegister},
		{Pattern: "/auth/change-password", Class: ClassChangePassword},
	}
}

var (
	exemptPaths    = []string{"/actuator/health", "/healthz", "/swagger-ui.html"}
	exemptPrefixes = []string{"/swagger-ui/", "/v3/api-docs"}
)

// Exempt reports whether path bypasses rate limiting.
func Exempt(path string) bool {
	for _, p := range exemptPaths {
		if path == p {
			return true
		}
	}
	for _, p := range exemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Classify returns the class of path. When several routes match, the longest
// pattern wins. Paths matching no route are ClassDefault. exempt is true for
// health and documentation paths.
func Classify(path string, routes []Route) (class Class, exempt bool) {
	if Exempt(path) {
		return "", true
	}
	class = ClassDefault
	best := 0
	for _, r := range routes {
		if len(r.Pattern) > best && strings.Contains(path, r.Pattern) {
			class, best = r.Class, len(r.Pattern)
		}
	}
	return class, false
}

// ClientAddress picks the bucket source for a request: the first
// X-Forwarded-For entry, then X-Real-IP, then the peer address without port.
func ClientAddress(forwardedFor, realIP, remoteAddr string) string {
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(realIP); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
