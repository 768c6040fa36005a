// Package permission implements the role/permission graph used for
// authorization.
//
// Permissions are granted to roles and roles to users; a user's effective
// permissions are the union over the roles they hold. Names are exact
// strings with no wildcard or prefix semantics.
//
// [Graph] caches per-user resolutions and invalidates them inside the same
// critical section as the edge write, so a check made after a mutation
// returns always sees it. Persistence is behind [Store]; [MemoryStore] ships
// here and a PostgreSQL implementation lives in store/postgres.
package permission
