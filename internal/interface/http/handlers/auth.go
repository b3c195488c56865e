package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// ErrNoToken is returned when neither a token nor a hash is configured.
var ErrNoToken = errors.New("handlers: no token configured")

// TokenAuth checks a shared secret against a bcrypt hash. Only the hash is
// kept in memory.
type TokenAuth struct {
	header string
	hash   []byte
}

// NewTokenAuth builds a TokenAuth reading header. tokenHash wins when set;
// otherwise token is hashed here. For the Authorization header a "Bearer "
// prefix is stripped.
func NewTokenAuth(header, token, tokenHash string) (*TokenAuth, error) {
	if header == "" {
		header = "Authorization"
	}

	switch {
	case tokenHash != "":
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, err
		}
		return &TokenAuth{header: header, hash: []byte(tokenHash)}, nil
	case token != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		return &TokenAuth{header: header, hash: hash}, nil
	default:
		return nil, ErrNoToken
	}
}

// Verify reports whether presented matches the configured secret.
func (a *TokenAuth) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(presented)) == nil
}

// Token extracts the presented secret from r.
func (a *TokenAuth) Token(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(a.header))
	if strings.EqualFold(a.header, "Authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return ""
	}
	return v
}

// Middleware rejects requests without a valid token with 401.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.Token(r)
		if token == "" {
			unauthorized(w, "missing_token", "A token is required")
			return
		}
		if !a.Verify(token) {
			unauthorized(w, "invalid_token", "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
