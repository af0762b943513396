package middleware

import "net/http"

// RequireJWTOnly guards a handler with signature and claim checks only,
// without a session lookup.
func RequireJWTOnly(v Validator) func(http.Handler) http.Handler {
	return Guard(v, ModeJWTOnly)
}
