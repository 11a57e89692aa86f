// Package postgres connects the recorder to PostgreSQL through a pgx pool.
//
// PostgreSQL is the alternative to the default SQLite store for
// installations that already run a database server. The schema mirrors the
// SQLite migrations: timestamps are BIGINT microseconds since the epoch and
// attributes are JSONB.
package postgres
