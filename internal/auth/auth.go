// Package auth authenticates API requests with HS256 JWTs carrying the
// organization id claim and makes the organization available on the
// request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const organizationKey contextKey = "organization_id"

// Auth validates bearer tokens on API requests.
type Auth struct {
	secret []byte
}

func New(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Claims is the token payload. The org claim names the organization
// the caller acts for.
type Claims struct {
	OrganizationID string `json:"org"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for the organization, for tooling and tests.
func (a *Auth) IssueToken(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// RequireAuth rejects requests without a valid bearer token and stores
// the organization id on the context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return a.secret, nil
			})
		if err != nil || !token.Valid || claims.OrganizationID == "" {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), organizationKey, claims.OrganizationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "Authentication required"}`))
}

// OrganizationFromContext returns the authenticated organization id.
func OrganizationFromContext(ctx context.Context) string {
	orgID, _ := ctx.Value(organizationKey).(string)
	return orgID
}

// WithOrganization returns a context carrying the organization id, for
// tests and internal callers.
func WithOrganization(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, organizationKey, orgID)
}
