// Package security summarizes the security posture an Engine was configured
// with, for startup logs and admin endpoints.
package security
