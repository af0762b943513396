// Package authserver is a small reference implementation of the auth API
// the client package is written against.
//
// It issues short-lived HS256 access tokens and rotating refresh sessions
// held in Redis, delivered as an HttpOnly cookie. Protected routes answer
// 401 with one of three reasons so a client can tell a refreshable token
// ("invalid token") from a missing one or a revoked session.
//
// Routes, all under /auth:
//
//	POST register, login, google, refresh, logout
//	POST forgot-password, reset-password, verify-email
//	GET  me
//
// Reset and verification tokens are handed to [Options.OnChallenge]
// instead of being mailed.
package authserver
