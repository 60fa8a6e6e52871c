// Package db opens PostgreSQL connection pools for the schema engine.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/cfg"
)

// Open builds a pooled database handle from configuration and verifies
// connectivity. Statement timeouts ride on the session so long-running DDL
// cannot wedge a migration forever; cancellation beyond that is the
// caller's context.
func Open(ctx context.Context, conf cfg.DatabaseConfiguration) (*sql.DB, error) {
	dsn := conf.DSN
	if conf.StatementTimeoutMS > 0 {
		dsn = fmt.Sprintf("%s options='-c statement_timeout=%d'", dsn, conf.StatementTimeoutMS)
	}

	handle, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	handle.SetMaxOpenConns(conf.PoolSize)
	handle.SetMaxIdleConns(conf.PoolSize)
	handle.SetConnMaxIdleTime(time.Duration(conf.MaxIdleTimeSeconds) * time.Second)
	handle.SetConnMaxLifetime(time.Duration(conf.MaxLifetimeSeconds) * time.Second)

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Debug().
		Int("pool_size", conf.PoolSize).
		Int("statement_timeout_ms", conf.StatementTimeoutMS).
		Msg("Database pool opened")
	return handle, nil
}
