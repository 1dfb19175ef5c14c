package rpc

import (
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ScopeSaleAdmin is the JWT scope claim value required by the admin surface.
const ScopeSaleAdmin = "sale.admin"

// Authenticator verifies HMAC-signed bearer tokens carrying a space-separated
// scope claim.
type Authenticator struct {
	secret    []byte
	clockSkew time.Duration
}

// NewAuthenticator builds an authenticator around the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		clockSkew: 2 * time.Minute,
	}
}

// Middleware enforces a valid token holding every required scope.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(a.secret) == 0 {
				writeError(w, http.StatusServiceUnavailable, "Unauthorized", "admin authentication not configured")
				return
			}
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(raw, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			scopes, err := a.verify(strings.TrimPrefix(raw, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}
			for _, required := range requiredScopes {
				if !scopes[required] {
					writeError(w, http.StatusForbidden, "Unauthorized", "missing scope "+required)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) verify(token string) (map[string]bool, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	scopes := make(map[string]bool)
	if raw, ok := claims["scope"].(string); ok {
		for _, scope := range strings.Fields(raw) {
			scopes[scope] = true
		}
	}
	return scopes, nil
}
