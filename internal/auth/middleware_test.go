package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vantrex/warelay/internal/domain"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareInjectsCaller(t *testing.T) {
	cfg := testTokenConfig()
	token, err := CreateToken("u1", domain.RoleAssignee, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	var got domain.Caller
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Error("Caller missing from context")
		}
		got = caller
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got.UserID != "u1" || got.Role != domain.RoleAssignee {
		t.Errorf("Unexpected caller: %+v", got)
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	cfg := testTokenConfig()
	handler := Middleware(cfg)(okHandler())

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer not-a-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(domain.RoleAdmin, domain.RoleOperator)(okHandler())

	cases := []struct {
		role domain.Role
		want int
	}{
		{domain.RoleAdmin, http.StatusOK},
		{domain.RoleOperator, http.StatusOK},
		{domain.RoleAssignee, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithCaller(req.Context(), domain.Caller{UserID: "u1", Role: tc.role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("Role %s: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
	}

	// No caller in context at all.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without caller, got %d", rec.Code)
	}
}
