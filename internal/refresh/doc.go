// Package refresh coordinates credential attachment and token refresh for
// concurrent requests.
//
// # State machine
//
// The [Coordinator] is Idle until a request fails with the refresh trigger
// (HTTP 401 carrying the token-invalid reason). The first such failure moves it to
// Refreshing and issues exactly one refresh call. Failures that arrive while the
// call is outstanding are parked in a FIFO queue. When the call settles the
// coordinator drains: on success it stores the new credential, dispatches the
// triggering request and then every parked request in enqueue order; on failure it
// clears the credential and fails them all with the same [*RefreshError].
//
// # Retry bound
//
// A replayed request carries Attempt > 0 and never triggers another refresh.
// Requests to the refresh path never trigger one either.
//
// # What this package must NOT do
//
//   - Perform HTTP itself (it drives a SendFunc and a RefreshFunc).
//   - Import goAuthClient (no upward imports).
package refresh
