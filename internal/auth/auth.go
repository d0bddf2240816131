// Package auth verifies bearer tokens issued by the identity provider and
// carries the caller's identity through the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	Secret []byte
	Now    func() time.Time
}

func NewVerifier(secret string) Verifier { return Verifier{Secret: []byte(secret)} }

func (v Verifier) Verify(token string) (visibility.Viewer, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}
	var c Claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return visibility.Viewer{}, apperr.Wrap(apperr.CodeUnauthorized, apperr.KindAuth, "invalid token", err)
	}
	role := visibility.Role(c.Role)
	switch role {
	case visibility.RoleBuyer, visibility.RoleSeller, visibility.RoleFulfiller, visibility.RoleAdmin:
	default:
		return visibility.Viewer{}, apperr.WithMessage(apperr.ErrUnauthorized, "unknown role")
	}
	if c.Subject == "" {
		return visibility.Viewer{}, apperr.WithMessage(apperr.ErrUnauthorized, "token has no subject")
	}
	return visibility.Viewer{UserID: c.Subject, Role: role}, nil
}

// Issue signs a token for userID. The platform's identity provider issues
// real tokens; this is used by tests and local tooling.
func Issue(secret, userID string, role visibility.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

type ctxKey struct{}

func WithViewer(ctx context.Context, v visibility.Viewer) context.Context {
	return context.WithValue(ctx, ctxKey{}, v)
}

func FromContext(ctx context.Context) (visibility.Viewer, bool) {
	v, ok := ctx.Value(ctxKey{}).(visibility.Viewer)
	return v, ok
}

var errNoToken = errors.New("missing bearer token")

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", errNoToken
	}
	return strings.TrimSpace(tok), nil
}

// Middleware rejects requests without a valid token and stores the viewer
// in the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearer(r)
			if err == nil {
				var viewer visibility.Viewer
				if viewer, err = v.Verify(tok); err == nil {
					next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"unauthorized"}}`))
		})
	}
}

// RequireRole lets through only the listed roles.
func RequireRole(roles ...visibility.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer, _ := FromContext(r.Context())
			for _, role := range roles {
				if viewer.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"forbidden"}}`))
		})
	}
}
