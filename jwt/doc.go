// Package jwt issues and verifies short-lived access tokens.
//
// Only asymmetric algorithms (EdDSA, RS256, ES256) are supported so that
// services verifying tokens never hold signing material. Verification
// failures are folded onto three sentinels, [ErrSignatureInvalid],
// [ErrExpired] and [ErrMalformed], which callers map to their own taxonomy.
package jwt
