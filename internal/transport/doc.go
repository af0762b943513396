// Package transport performs a single HTTP exchange against the configured base
// endpoint and normalizes its outcome.
//
// # Outcomes
//
//   - 2xx with an "ok" envelope: the unwrapped data is returned.
//   - Any response that is not a 2xx "ok" envelope: [*APIError] carrying the envelope
//     reason (or a generic fallback) and the HTTP status code.
//   - No response at all: [*NetworkError] carrying the underlying cause.
//
// # Architecture boundaries
//
// The transport never reads or stores credentials. Authorization headers arrive
// pre-populated on the [Request]; access tokens found in successful payloads are
// reported to an optional [TokenObserver] and nothing else.
//
// # What this package must NOT do
//
//   - Retry, refresh, or queue requests (see internal/refresh).
//   - Import goAuthClient (no upward imports).
package transport
