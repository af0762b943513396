// Package goAuthClient provides an authenticated HTTP client for APIs that
// answer with a uniform status envelope and issue short-lived bearer tokens
// backed by a refresh cookie.
//
// The [Client] attaches the current credential to every request. When the
// server rejects a credential as invalid, the first failing request starts a
// single refresh call; requests that fail the same way while it is in flight
// wait for it. Once it settles, the triggering request and then every waiting
// request are replayed once with the new credential, or all fail together with
// a [*RefreshError].
//
// # Architecture boundaries
//
// goAuthClient is the public surface: [Client], [Builder], [Config] and the
// error types. The HTTP exchange lives in internal/transport and the refresh
// state machine in internal/refresh; neither is exported.
//
// # What this package must NOT do
//
//   - Persist credentials beyond the lifetime of the Client.
//   - Retry a request more than once through the refresh path.
//   - Refresh in response to failures of the refresh endpoint itself.
//   - Import auth, authserver or any sub-package that re-imports goAuthClient.
package goAuthClient
