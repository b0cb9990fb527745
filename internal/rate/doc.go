// Package rate implements Redis-backed fixed-window throttling of login attempts.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit of a window. Key prefixes:
//   - rl:id:: failed logins per identifier
//   - rl:ip:: failed logins per client IP
//
// # What this package must NOT do
//
//   - Decide how a rate-limited login is reported to the caller.
package rate
