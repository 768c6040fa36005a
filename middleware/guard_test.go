package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/rentauth"
)

type fakeAuthorizer struct {
	token string
	user  string
	perms map[string]error
	calls []string
}

func (f *fakeAuthorizer) Authorize(_ context.Context, accessToken, perm string) (string, error) {
	f.calls = append(f.calls, perm)
	if accessToken != f.token {
		return "", rentauth.ErrTokenSignatureInvalid
	}
	if err, ok := f.perms[perm]; ok {
		if err != nil {
			return "", err
		}
		return f.user, nil
	}
	return "", rentauth.ErrPermissionDenied
}

func serve(t *testing.T, h http.Handler, authz string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusNoContent {
		seen = rec.Header().Get("X-User")
	}
	return rec, seen
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		w.Header().Set("X-User", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestGuardStatuses(t *testing.T) {
	authz := &fakeAuthorizer{
		token: "good",
		user:  "u-host",
		perms: map[string]error{
			"listing:create": nil,
			"listing:delete": rentauth.ErrTokenExpired,
		},
	}

	cases := []struct {
		name   string
		perm   string
		header string
		want   int
		user   string
	}{
		{"granted", "listing:create", "Bearer good", http.StatusNoContent, "u-host"},
		{"scheme is case-insensitive", "listing:create", "bearer good", http.StatusNoContent, "u-host"},
		{"missing header", "listing:create", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "listing:create", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, ""},
		{"empty token", "listing:create", "Bearer   ", http.StatusUnauthorized, ""},
		{"bad signature", "listing:create", "Bearer forged", http.StatusUnauthorized, ""},
		{"expired", "listing:delete", "Bearer good", http.StatusUnauthorized, ""},
		{"forbidden", "booking:refund", "Bearer good", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		rec, user := serve(t, Guard(authz, tc.perm)(okHandler()), tc.header)
		if rec.Code != tc.want {
			t.Fatalf("%s: status %d, want %d", tc.name, rec.Code, tc.want)
		}
		if user != tc.user {
			t.Fatalf("%s: user %q, want %q", tc.name, user, tc.user)
		}
		if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("%s: missing WWW-Authenticate challenge", tc.name)
		}
	}
}

func TestRequireAllStopsAtFirstDenial(t *testing.T) {
	authz := &fakeAuthorizer{
		token: "good",
		user:  "u-admin",
		perms: map[string]error{"user:deactivate": nil},
	}
	h := RequireAll(authz, "booking:refund", "user:deactivate")(okHandler())
	rec, _ := serve(t, h, "Bearer good")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	if len(authz.calls) != 1 {
		t.Fatalf("expected one Authorize call, got %v", authz.calls)
	}

	authz.perms["booking:refund"] = nil
	rec, user := serve(t, h, "Bearer good")
	if rec.Code != http.StatusNoContent || user != "u-admin" {
		t.Fatalf("status %d user %q", rec.Code, user)
	}
}

func TestGuardMisconfigured(t *testing.T) {
	for name, h := range map[string]http.Handler{
		"nil engine":     Guard(nil, "listing:create")(okHandler()),
		"no permissions": RequireAll(&fakeAuthorizer{})(okHandler()),
	} {
		rec, _ := serve(t, h, "Bearer good")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: status %d, want 500", name, rec.Code)
		}
	}
}
