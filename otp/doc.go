// Package otp derives short numeric codes per (user, purpose, time step) and
// verifies each at most once, with replay markers kept in Redis.
package otp
