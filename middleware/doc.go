// Package middleware exposes the reference server's bearer-token guards.
//
// # Guards
//
//   - [Guard] with an explicit [Mode].
//   - [RequireJWTOnly] for stateless verification.
//   - [RequireStrict] which also requires a live session.
//
// Failures are written as 401 envelopes whose error is one of
// [ReasonMissingToken], [ReasonInvalidToken] or [ReasonSessionRevoked]. Only
// the invalid-token reason makes a client refresh, so a revoked session
// does not loop through the refresh endpoint.
//
// # What this package must NOT do
//
//   - Parse JWTs or touch Redis (the [Validator] does).
//   - Make authorization decisions beyond pass/reject.
package middleware
