package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/telemetry"
)

var dialect = goqu.Dialect("postgres")

// DBTX is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
// Mutating operations take it explicitly so they can participate in the
// caller's migration transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager owns the migration history of schemas reachable through one
// database handle.
type Manager struct {
	db *sql.DB
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// EnsureTable creates the schema-local migrations table if absent.
func (m *Manager) EnsureTable(ctx context.Context, q DBTX, schemaName string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.%q (
	"id" BIGSERIAL PRIMARY KEY,
	"name" TEXT NOT NULL,
	"applied_at" TIMESTAMPTZ NOT NULL DEFAULT now(),
	"meta" JSONB NOT NULL,
	"publication_snapshot" JSONB
)`, schemaName, TableName)
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create migrations table in %s: %w", schemaName, err)
	}
	return nil
}

// Append persists one migration record and returns it with its generated id
// and timestamp.
func (m *Manager) Append(ctx context.Context, q DBTX, schemaName, name string, meta Meta, publicationSnapshot json.RawMessage) (*Record, error) {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal migration meta: %w", err)
	}

	rec := goqu.Record{"name": name, "meta": metaRaw}
	if len(publicationSnapshot) > 0 {
		rec["publication_snapshot"] = []byte(publicationSnapshot)
	}
	sqlStr, args, err := dialect.Insert(goqu.S(schemaName).Table(TableName)).
		Rows(rec).
		Returning("id", "applied_at").
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build migration insert: %w", err)
	}

	out := &Record{Name: name, Meta: meta, PublicationSnapshot: publicationSnapshot}
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID, &out.AppliedAt); err != nil {
		return nil, fmt.Errorf("insert migration record: %w", err)
	}

	telemetry.MigrationsRecordedTotal.Inc()
	log.Info().
		Str("schema", schemaName).
		Int64("migration_id", out.ID).
		Str("name", name).
		Int("changes", len(meta.Changes)).
		Bool("destructive", meta.HasDestructive).
		Msg("Migration recorded")
	return out, nil
}

// List returns records ordered by applied time descending (display order)
// plus the total count. Rollback logic never uses this order; it walks
// records chronologically via newerThan.
func (m *Manager) List(ctx context.Context, schemaName string, limit, offset int) ([]Record, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	countSQL, countArgs, err := dialect.From(goqu.S(schemaName).Table(TableName)).
		Select(goqu.COUNT("*")).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build migration count: %w", err)
	}
	var total int
	if err := m.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count migrations: %w", err)
	}

	sqlStr, args, err := dialect.From(goqu.S(schemaName).Table(TableName)).
		Select("id", "name", "applied_at", "meta", "publication_snapshot").
		Order(goqu.C("applied_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build migration list: %w", err)
	}

	records, err := m.scanRecords(ctx, m.db, sqlStr, args)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Get returns one record or ErrNotFound.
func (m *Manager) Get(ctx context.Context, schemaName string, id int64) (*Record, error) {
	sqlStr, args, err := dialect.From(goqu.S(schemaName).Table(TableName)).
		Select("id", "name", "applied_at", "meta", "publication_snapshot").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build migration lookup: %w", err)
	}

	records, err := m.scanRecords(ctx, m.db, sqlStr, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound{Schema: schemaName, ID: id}
	}
	return &records[0], nil
}

// Latest returns the most recently applied record, or nil when the schema
// has no migrations yet.
func (m *Manager) Latest(ctx context.Context, schemaName string) (*Record, error) {
	sqlStr, args, err := dialect.From(goqu.S(schemaName).Table(TableName)).
		Select("id", "name", "applied_at", "meta", "publication_snapshot").
		Order(goqu.C("applied_at").Desc(), goqu.C("id").Desc()).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build latest migration lookup: %w", err)
	}

	records, err := m.scanRecords(ctx, m.db, sqlStr, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// newerThan returns records applied strictly after the given one, in true
// chronological order.
func (m *Manager) newerThan(ctx context.Context, q DBTX, schemaName string, after Record) ([]Record, error) {
	sqlStr, args, err := dialect.From(goqu.S(schemaName).Table(TableName)).
		Select("id", "name", "applied_at", "meta", "publication_snapshot").
		Where(goqu.Or(
			goqu.C("applied_at").Gt(after.AppliedAt),
			goqu.And(goqu.C("applied_at").Eq(after.AppliedAt), goqu.C("id").Gt(after.ID)),
		)).
		Order(goqu.C("applied_at").Asc(), goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build newer-migrations query: %w", err)
	}
	return m.scanRecords(ctx, q, sqlStr, args)
}

// Delete removes one record. Only valid as part of a larger rollback
// transaction, which is why it demands an explicit DBTX.
func (m *Manager) Delete(ctx context.Context, q DBTX, schemaName string, id int64) error {
	sqlStr, args, err := dialect.Delete(goqu.S(schemaName).Table(TableName)).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build migration delete: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete migration %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound{Schema: schemaName, ID: id}
	}
	return nil
}

// AppendSeedWarnings records seeding warnings on an already-applied
// migration. This is the single sanctioned after-the-fact update.
func (m *Manager) AppendSeedWarnings(ctx context.Context, schemaName string, id int64, warnings []string) error {
	if len(warnings) == 0 {
		return nil
	}
	rec, err := m.Get(ctx, schemaName, id)
	if err != nil {
		return err
	}
	rec.Meta.SeedWarnings = append(rec.Meta.SeedWarnings, warnings...)

	metaRaw, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("marshal migration meta: %w", err)
	}
	sqlStr, args, err := dialect.Update(goqu.S(schemaName).Table(TableName)).
		Set(goqu.Record{"meta": metaRaw}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build seed warnings update: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("append seed warnings to migration %d: %w", id, err)
	}

	log.Warn().
		Str("schema", schemaName).
		Int64("migration_id", id).
		Int("warnings", len(warnings)).
		Msg("Seed warnings recorded on migration")
	return nil
}

func (m *Manager) scanRecords(ctx context.Context, q DBTX, sqlStr string, args []any) ([]Record, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var appliedAt time.Time
		var metaRaw []byte
		var pubSnapshot []byte
		if err := rows.Scan(&rec.ID, &rec.Name, &appliedAt, &metaRaw, &pubSnapshot); err != nil {
			return nil, fmt.Errorf("scan migration record: %w", err)
		}
		rec.AppliedAt = appliedAt
		if err := json.Unmarshal(metaRaw, &rec.Meta); err != nil {
			return nil, fmt.Errorf("decode meta of migration %d: %w", rec.ID, err)
		}
		if len(pubSnapshot) > 0 {
			rec.PublicationSnapshot = json.RawMessage(pubSnapshot)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return records, nil
}
