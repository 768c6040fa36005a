// Package token issues access/refresh pairs and rotates refresh tokens.
//
// # Refresh tokens
//
// A refresh token is 32 random bytes, base64url encoded. Only its SHA-256
// reaches a Store. Each row moves through the State machine in state.go
// exactly once; Refresh marks the presented row Rotated and inserts its
// successor in one atomic Store step.
//
// Presenting a Rotated row again is reuse. The Service reports it through
// RefreshError.Reused and, when configured, revokes every live row of the
// owner.
//
// # What this package must NOT do
//
//   - Look up users or roles itself; SubjectFunc supplies them.
//   - Log or return token plaintext in errors.
package token
