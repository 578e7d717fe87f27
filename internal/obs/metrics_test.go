package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/auth/login":                   "/auth/login",
		"/auth/users/01J5YX1B4R":        "/auth/users/:id",
		"/rbac/permissions/01J5YX1B4R":  "/rbac/permissions/:id",
		"/rbac/roles/abc/permissions":   "/rbac/roles/:id/permissions",
		"/api/enrollments/abc":          "/api/enrollments/:id",
		"/api/enrollments":              "/api/enrollments",
		"/auth/has-permission?resource": "/auth/has-permission",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
