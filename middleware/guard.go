package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/goAuthClient/envelope"
)

// Reasons written in the envelope error field. Clients key their refresh
// decision on ReasonInvalidToken, so it must only be used for credentials
// that a refresh can fix.
const (
	ReasonMissingToken   = "missing token"
	ReasonInvalidToken   = "invalid token"
	ReasonSessionRevoked = "session revoked"
)

// ErrSessionRevoked is returned by a [Validator] when the token verifies but
// its session no longer exists.
var ErrSessionRevoked = errors.New("session revoked")

// Mode selects how much a [Validator] checks.
type Mode int

const (
	// ModeJWTOnly verifies the token signature and claims only.
	ModeJWTOnly Mode = iota
	// ModeStrict additionally requires the token's session to be live.
	ModeStrict
)

// Principal is the authenticated caller placed in the request context.
type Principal struct {
	UserID    string
	SessionID string
	Email     string
}

// Validator checks a bearer token.
type Validator interface {
	Validate(ctx context.Context, token string, mode Mode) (*Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard].
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}

// Guard rejects requests without a valid bearer token with a 401 envelope.
func Guard(v Validator, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				envelope.WriteError(w, http.StatusUnauthorized, ReasonMissingToken)
				return
			}
			if v == nil {
				envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidToken)
				return
			}

			p, err := v.Validate(r.Context(), token, mode)
			if err != nil {
				reason := ReasonInvalidToken
				if errors.Is(err, ErrSessionRevoked) {
					reason = ReasonSessionRevoked
				}
				envelope.WriteError(w, http.StatusUnauthorized, reason)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
