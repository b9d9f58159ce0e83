// Package authctx populates the request context with the authenticated
// owner id from a bearer token. Token issuance and the authorization
// model live upstream; this package only verifies the signature and
// lifts the subject claim into the context the handlers read.
package authctx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/types"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier validates bearer tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
	logger *zap.Logger
}

// NewVerifier constructs a Verifier. An empty secret disables
// verification entirely (Middleware becomes a pass-through), which keeps
// local development and tests working without token plumbing.
func NewVerifier(secret string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{secret: []byte(secret), logger: logger.With(zap.String("component", "authctx"))}
}

// Subject verifies the Authorization header of r and returns the token's
// subject claim.
func (v *Verifier) Subject(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
		return "", ErrMissingToken
	}
	raw = strings.TrimPrefix(raw, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Middleware wraps next, rejecting requests without a valid token with
// HTTP 401 (transport failure, not a business envelope) and otherwise
// threading the subject through the context for RequestOwnerID.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(v.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		sub, err := v.Subject(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(types.WithUserID(r.Context(), sub)))
	})
}
