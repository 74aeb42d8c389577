package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/users/abc":             "/v1/users/:id",
		"/v1/users/abc/emails":      "/v1/users/:id/emails",
		"/v1/users/abc/extra":       "/v1/users/abc/extra",
		"/v1/clients/abc":           "/v1/clients/:id",
		"/v1/clients/abc/resources": "/v1/clients/:id/resources",
		"/v1/orgs/abc/teams":        "/v1/orgs/:id/teams",
		"/v1/token":                 "/v1/token",
		"/v1/token?limit=10":        "/v1/token",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
