// Package postgres implements the store using pgx/v5 with raw SQL.
// Claims use SELECT FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same job. Schema setup runs from embedded SQL migrations.
package postgres
