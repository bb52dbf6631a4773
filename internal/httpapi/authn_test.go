package httpapi

import (
	"net/http"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "plain", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "padded", header: "  Bearer   abc  ", want: "abc"},
		{name: "empty", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "scheme only", header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAdminSurfaceRequiresAdminRole(t *testing.T) {
	api := newTestAPI(t)

	// Unauthenticated calls bounce with 401.
	resp := api.get("/v1/users", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// A plain user holds no admin role and gets 403.
	alice := bearerHeader(api.obtainToken("alice@example.com", "Sup3r$ecret"))
	resp = api.get("/v1/users", nil, alice)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/services", map[string]any{"name": "rogue"}, alice)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// The admin passes the same gate.
	admin := bearerHeader(api.obtainToken("admin@example.com", "Adm1n$ecret"))
	resp = api.get("/v1/users", nil, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPublicPathsSkipAuthentication(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/openapi.yaml", "/metrics"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200 without credentials, got %d", path, resp.StatusCode)
		}
	}
}

func TestIsPublicPathExactMatchOnly(t *testing.T) {
	if !isPublicPath("/v1/auth/token") {
		t.Fatalf("login path must be public")
	}
	if isPublicPath("/v1/auth/token/extra") {
		t.Fatalf("prefix match must not leak auth bypass")
	}
	if isPublicPath("/v1/users") {
		t.Fatalf("admin surface must not be public")
	}
}
