// Package internal holds the reference server's opaque token helpers.
//
// A token is the base64url encoding of a 16-byte ID followed by a 32-byte
// random secret. Stores keep the ID as the key and only the SHA-256 of the
// secret.
//
// # Sub-packages
//
//   - transport: the client's envelope-aware HTTP exchange
//   - refresh: the client's refresh coordinator
//   - rate: Redis fixed-window counters for login and refresh throttling
//   - stores: Redis user records and one-time challenges for the reference server
package internal
