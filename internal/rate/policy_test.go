package rate

import "testing"

func TestClassify(t *testing.T) {
	routes := append(DefaultRoutes(), Route{Pattern: "/auth/login/otp", Class: ClassChangePassword})

	cases := []struct {
		path   string
		class  Class
		exempt bool
	}{
		{"/api/v1/auth/login", ClassLogin, false},
		{"/api/v1/auth/register", ClassRegister, false},
		{"/api/v1/auth/change-password", ClassChangePassword, false},
		{"/api/v1/auth/login/otp", ClassChangePassword, false},
		{"/api/v1/vault", ClassDefault, false},
		{"/actuator/health", "", true},
		{"/healthz", "", true},
		{"/swagger-ui.html", "", true},
		{"/swagger-ui/index.html", "", true},
		{"/v3/api-docs/swagger-config", "", true},
		{"/actuator/health/extra", ClassDefault, false},
	}
	for _, tc := range cases {
		class, exempt := Classify(tc.path, routes)
		if class != tc.class || exempt != tc.exempt {
			t.Fatalf("Classify(%q) = %q,%v want %q,%v", tc.path, class, exempt, tc.class, tc.exempt)
		}
	}
}

func TestClientAddress(t *testing.T) {
	cases := []struct {
		xff, realIP, remote, want string
	}{
		{"203.0.113.7, 10.0.0.1", "198.51.100.2", "10.0.0.9:4242", "203.0.113.7"},
		{"", "198.51.100.2", "10.0.0.9:4242", "198.51.100.2"},
		{" , 10.0.0.1", "198.51.100.2", "10.0.0.9:4242", "198.51.100.2"},
		{"", "", "10.0.0.9:4242", "10.0.0.9"},
		{"", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"", "", "pipe", "pipe"},
	}
	for _, tc := range cases {
		if got := ClientAddress(tc.xff, tc.realIP, tc.remote); got != tc.want {
			t.Fatalf("ClientAddress(%q,%q,%q) = %q want %q", tc.xff, tc.realIP, tc.remote, got, tc.want)
		}
	}
}
