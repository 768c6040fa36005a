// Package credential owns accounts: lookup by username or email, password
// verification, the append-only activity log and optional profiles.
//
// Identifiers are compared after [Normalize]; storage enforces uniqueness on
// the lower-cased forms. Plaintext passwords pass through [Store] only as call
// arguments and are never stored, logged or returned.
package credential
