package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func token(t *testing.T, sub string, role visibility.Role, ttl time.Duration) string {
	t.Helper()
	tok, err := Issue(secret, sub, role, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestVerify(t *testing.T) {
	v := NewVerifier(secret)

	got, err := v.Verify(token(t, "b1", visibility.RoleBuyer, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "b1" || got.Role != visibility.RoleBuyer {
		t.Fatalf("viewer=%+v", got)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
		Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	otherKey, _ := Issue("other", "b1", visibility.RoleBuyer, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "buyer", RegisteredClaims: jwt.RegisteredClaims{Subject: "b1"}}).SignedString([]byte(secret))

	tests := []struct {
		name  string
		token string
	}{
		{"expired", token(t, "b1", visibility.RoleBuyer, -time.Minute)},
		{"wrong key", otherKey},
		{"alg none", unsigned},
		{"no expiry", noExpiry},
		{"unknown role", token(t, "b1", "janitor", time.Hour)},
		{"no subject", token(t, "", visibility.RoleBuyer, time.Hour)},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, apperr.ErrUnauthorized) {
				t.Fatalf("err=%v want UNAUTHORIZED", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var seen visibility.Viewer
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(NewVerifier(secret))(RequireRole(visibility.RoleFulfiller, visibility.RoleAdmin)(inner))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + token(t, "b1", visibility.RoleBuyer, time.Hour), http.StatusForbidden},
		{"fulfiller", "Bearer " + token(t, "f1", visibility.RoleFulfiller, time.Hour), http.StatusOK},
		{"lowercase scheme", "bearer " + token(t, "a1", visibility.RoleAdmin, time.Hour), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/batches/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status=%d want %d", rec.Code, tt.want)
			}
		})
	}
	if seen.UserID != "a1" {
		t.Fatalf("viewer not carried in context: %+v", seen)
	}
}
