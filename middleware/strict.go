package middleware

import "net/http"

func RequireStrict(v Validator) func(http.Handler) http.Handler {
	return Guard(v, ModeStrict)
}
