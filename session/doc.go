// Package session persists refresh token rows in Redis.
//
// # Layout
//
//	<prefix>:rt:<hex sha256>   hash: id, user, state, exp, created, updated, by
//	<prefix>:rtu:<user id>     sorted set of row hashes scored by creation time
//
// Rows are never deleted on revocation or rotation; they change state and
// linger until their key TTL (expiry plus retention) so a replayed token is
// recognised as rotated rather than unknown.
//
// # What this package must NOT do
//
//   - Import rentauth or jwt (no upward imports).
//   - Decide refresh policy; that belongs to token.Service.
//   - Store refresh token plaintext.
package session
