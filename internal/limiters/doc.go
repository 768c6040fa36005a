// Package limiters holds the domain throttles built on the fixed-window
// counter in internal/rate.
//
//   - [OTPAttemptLimiter]: wrong-code budget per (user, purpose).
//   - [OTPRequestLimiter]: code dispatch budget per (user, purpose).
//   - [RegistrationLimiter]: sign-ups per email and per IP.
//   - [LockoutLimiter]: failed logins per user ID, triggers deactivation.
//
// Limiters only count. Callers decide the consequence. All methods are safe
// on a nil receiver.
package limiters
