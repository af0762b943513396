// Package jwt issues and verifies the reference server's access tokens.
//
// Tokens carry the user ID and the refresh-session ID. A token that fails any
// check is simply invalid; callers do not distinguish expiry from a bad
// signature, since both are answered with the same reason on the wire.
package jwt
