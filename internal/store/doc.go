// Package store provides the SQL executors the relational backend runs on.
//
// Two executors are available:
//   - SQLite: database/sql over go-sqlite3, single connection
//   - Postgres: a pgx connection pool
//
// Both accept the querysql.Query values emitted for their dialect and return
// rows through the Rows interface, so the relational backend never depends on
// a concrete driver.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// An optional schema script is applied on open. Scripts must be idempotent
// (CREATE TABLE IF NOT EXISTS ...); opening the same database twice is safe.
package store
