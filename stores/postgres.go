package stores

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is implemented by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ConnectPostgres opens a pgx pool and verifies the connection.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS permission_grants (
    id TEXT PRIMARY KEY,
    resource_type TEXT NOT NULL,
    resource_name TEXT NOT NULL,
    action TEXT NOT NULL,
    principal_kind TEXT NOT NULL,
    principal_name TEXT NOT NULL,
    condition_json JSONB,
    granted_by TEXT NOT NULL DEFAULT '',
    granted_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (resource_type, resource_name, action, principal_kind, principal_name)
);
CREATE INDEX IF NOT EXISTS idx_permission_grants_principal
    ON permission_grants(principal_kind, principal_name);
CREATE TABLE IF NOT EXISTS principal_attributes (
    principal_name TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    expires_at TIMESTAMPTZ,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ,
    modified_by TEXT NOT NULL DEFAULT '',
    modified_at TIMESTAMPTZ,
    PRIMARY KEY (principal_name, name)
);
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL DEFAULT '',
    principal_name TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_name TEXT NOT NULL,
    action TEXT NOT NULL,
    granted BOOLEAN NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_principal
    ON audit_log(principal_name, timestamp);
CREATE TABLE IF NOT EXISTS role_members (
    principal_name TEXT NOT NULL,
    role_name TEXT NOT NULL,
    PRIMARY KEY (principal_name, role_name)
);
`

// MigratePostgres creates the tables on a Postgres database.
func MigratePostgres(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// pgParams numbers positional arguments for dynamically assembled queries.
type pgParams struct {
	args []any
}

func (p *pgParams) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}
