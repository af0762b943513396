// Package auth wraps the auth endpoints on top of a goAuthClient.Client.
//
// Successful register, login and Google sign-in install the returned access
// token on the client; Logout removes it. Every call goes through the
// client, so a stale credential is refreshed the same way as for any other
// request.
package auth
