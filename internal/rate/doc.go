// Package rate provides the reference server's Redis-backed fixed-window
// counters.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit. Keys are namespaced by Config.Prefix:
//   - <prefix>:login:<identifier>
//   - <prefix>:login-ip:<ip>
//   - <prefix>:refresh:<session>
package rate
