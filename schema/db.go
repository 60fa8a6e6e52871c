package schema

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx. Every operation takes one explicitly; the package holds no
// process-wide connection state.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
