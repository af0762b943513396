// Package stores provides the reference server's Redis-backed account and
// challenge records.
//
// # Design
//
// Users are Redis hashes with a SETNX-claimed email index. Challenges
// (password reset, email verification) are versioned binary records with a
// TTL. Consume uses WATCH/MULTI optimistic transactions with retry on
// contention, is single-use on success, and deletes the record once the
// attempt limit is hit. Secret comparisons are constant time.
//
// # What this package must NOT do
//
//   - Generate tokens or decide whether a login succeeds.
//   - Log or store plaintext secrets.
//   - Import the client packages.
package stores
