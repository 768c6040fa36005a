// Package postgres persists accounts, the RBAC graph and refresh tokens in
// PostgreSQL through database/sql and the pgx driver.
//
// One Store satisfies credential.Repository, permission.Store and
// token.Store, so an Engine can run entirely against a single database:
//
//	st, err := postgres.Open(ctx, cfg)
//	engine, err := rentauth.New().
//		WithCredentialRepository(st).
//		WithRBACStore(st).
//		WithTokenStore(st).
//		WithRedis(rdb).
//		Build()
//
// The schema ships embedded; Migrate applies it with golang-migrate.
package postgres
