// Package rate provides the Redis fixed-window counter used by every
// throttle in the module, plus the login throttle itself.
//
// Counters are INCR plus EXPIRE on the first hit. Key prefixes:
//   - ra:login:   failed logins per normalized identifier
//   - ra:loginip: failed logins per client IP
package rate
