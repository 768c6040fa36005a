// Package middleware adapts rentauth.Engine authorization to net/http.
//
// # Guards
//
//   - [Guard] admits a request whose bearer token carries one permission.
//   - [RequireAll] admits a request only if every listed permission holds.
//   - [ClientInfo] records the caller's IP and User-Agent on the request
//     context so Engine throttling and the activity log can see them.
//
// Guards read the Authorization header, call Engine.Authorize and put the
// authorized user ID on the request context. Rejections are written with
// rentauth.StatusCode so an expired token and a missing permission produce
// different statuses.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or query storage itself.
package middleware
