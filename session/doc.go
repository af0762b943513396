// Package session provides Redis-backed refresh-session persistence for the
// reference server.
//
// # Storage layout
//
// Each session is a Redis hash (uid, refresh, created, expires) under
// <prefix>:s:<id>, indexed in the set <prefix>:u:<uid>, with a global
// counter at <prefix>:count. Rotation is one Lua script so two refreshes
// racing on the same token cannot both succeed.
//
// # What this package must NOT do
//
//   - Interpret JWT access tokens.
//   - Store plaintext refresh secrets.
//   - Import the client packages.
package session
