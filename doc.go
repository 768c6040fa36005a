// Package rentauth is the identity and access control core of the rental
// marketplace: credential checks, role-based authorization, one-time codes
// and rotating refresh tokens behind a single [Engine].
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// rentauth is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. The components it composes live in
// their own packages:
//
//   - credential: users, profiles and the activity log
//   - permission: the RBAC graph and its invalidate-on-write cache
//   - otp: deterministic one-time codes with Redis replay markers
//   - token: access JWTs, refresh rotation and reuse detection
//   - session and store/postgres: token.Store implementations
//
// # What this package must NOT do
//
//   - Send mail or SMS. Codes and security events go to a [Notifier].
//   - Log or return passwords, raw refresh tokens or OTP codes.
//   - Hold process-wide state. Every Engine owns its graph, stores and
//     counters.
//
// # Errors
//
// Every error an Engine returns matches one sentinel in errors.go with
// [errors.Is]. [Classify] and [StatusCode] give the stable transport
// mapping; only [ErrStorageUnavailable] is [Retryable].
package rentauth
