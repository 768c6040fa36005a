// Package internal holds small helpers shared by the module's packages but
// not part of its public API: refresh token secrets and their wire encoding.
package internal
