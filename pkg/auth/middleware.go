// Package auth validates bearer tokens and carries the resulting Principal
// through request contexts. Tokens are EdDSA-signed JWTs bound to a tenant
// and a ledger role; anything else is rejected before a handler runs.
package auth

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/crypto"
)

// Claims are the JWT claims the ledger expects: the registered set plus the
// tenant binding and the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Verifier validates EdDSA tokens under a fixed public key.
type Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier wraps an already-loaded verification key.
func NewVerifier(pub ed25519.PublicKey) *Verifier {
	if pub == nil {
		return nil
	}
	return &Verifier{pub: pub}
}

// NewVerifierFromBase64 loads the base64 key form used in configuration.
func NewVerifierFromBase64(pubB64 string) (*Verifier, error) {
	pub, err := crypto.LoadPublicKey(pubB64)
	if err != nil {
		return nil, err
	}
	return NewVerifier(pub), nil
}

// Validate parses and validates a token string.
func (v *Verifier) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.pub == nil {
		return nil, fmt.Errorf("verifier uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/healthz",
	"/readyz",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware. If verifier is nil, all
// non-public requests are rejected (fail closed).
func NewMiddleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "Authorization header must be 'Bearer <token>'")
				return
			}

			if verifier == nil {
				unauthorized(w, "authentication not configured")
				return
			}

			claims, err := verifier.Validate(parts[1])
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				unauthorized(w, "token subject is required")
				return
			}
			if claims.TenantID == "" {
				unauthorized(w, "token tenant binding is required")
				return
			}
			if _, err := contracts.EmitterClassForRole(claims.Role); err != nil {
				unauthorized(w, "token role is not recognized")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{
				Subject:  claims.Subject,
				TenantID: claims.TenantID,
				Role:     claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// unauthorized writes a 401 problem response. The api package owns the full
// problem vocabulary; auth keeps this one writer so it stays importable from
// everywhere.
func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://veriledger.io/errors/401",
		"title":  "Unauthorized",
		"status": http.StatusUnauthorized,
		"detail": detail,
	})
}
