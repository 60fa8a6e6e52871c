// Package engine orchestrates the full sync and rollback control flow:
// snapshotting a metadata tree, diffing it against the stored snapshot,
// generating or migrating the physical schema, and recording migration
// history. Callers persist the returned snapshot and hash on their own
// records; the engine owns everything inside the schema.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/cfg"
	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/lock"
	"github.com/metahubhq/schemacore/migration"
	"github.com/metahubhq/schemacore/schema"
	"github.com/metahubhq/schemacore/snapshot"
	"github.com/metahubhq/schemacore/telemetry"
)

// SyncStatus is the outcome class of one sync request.
type SyncStatus string

const (
	StatusCreated             SyncStatus = "created"
	StatusSynced              SyncStatus = "synced"
	StatusNoChanges           SyncStatus = "no_changes"
	StatusPendingConfirmation SyncStatus = "pending_confirmation"
	StatusError               SyncStatus = "error"
)

// Engine wires the generator, migrator and migration manager over one
// database handle. Safe for concurrent use; syncs of distinct schemas run
// fully in parallel while the advisory lock serializes each schema.
type Engine struct {
	db         *sql.DB
	generator  *schema.Generator
	migrator   *schema.Migrator
	migrations *migration.Manager

	// hashes caches the last applied snapshot hash per schema, for cheap
	// status display without recomputing over the metadata tree.
	hashes *lru.Cache[string, string]
}

func New(db *sql.DB) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is nil")
	}
	size := cfg.Config.Engine.SnapshotCacheSize
	if size < 1 {
		size = 256
	}
	hashes, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create snapshot hash cache: %w", err)
	}
	return &Engine{
		db:         db,
		generator:  schema.NewGenerator(db),
		migrator:   schema.NewMigrator(db),
		migrations: migration.NewManager(db),
		hashes:     hashes,
	}, nil
}

// Migrations exposes the migration history manager.
func (e *Engine) Migrations() *migration.Manager { return e.migrations }

// Generator exposes the schema generator.
func (e *Engine) Generator() *schema.Generator { return e.generator }

// LastHash returns the cached snapshot hash for a schema, if any sync has
// run through this engine instance.
func (e *Engine) LastHash(schemaName string) (string, bool) {
	return e.hashes.Get(schemaName)
}

// SyncOptions carries the caller's context for one sync request.
type SyncOptions struct {
	// ConfirmDestructive acknowledges data loss for destructive changes.
	// Without it a destructive diff returns pending_confirmation and no
	// DDL runs.
	ConfirmDestructive bool

	// StoredSnapshot is the snapshot the caller persisted after the
	// previous sync; nil on first contact with an existing schema.
	StoredSnapshot *snapshot.Snapshot

	TreeID string
	UserID string

	PublicationSnapshot     json.RawMessage
	PublicationSnapshotHash string
	PublicationID           string
	PublicationVersionID    string
}

// SyncResult reports one sync. Snapshot and Hash are always set on
// success; the caller persists both for the next comparison.
type SyncResult struct {
	Status SyncStatus
	Diff   diff.Diff

	Snapshot *snapshot.Snapshot
	Hash     string

	TablesCreated  []string
	ChangesApplied int
	Migration      *migration.Record
	Errors         []string
}

// Sync drives the full control flow for one schema: generate it from
// scratch when absent, otherwise diff and migrate. A no-change diff only
// refreshes system metadata and records no migration, so repeated syncs
// with identical entities stay idempotent.
func (e *Engine) Sync(ctx context.Context, schemaName string, entities []snapshot.EntityDefinition, opts SyncOptions) (SyncResult, error) {
	result := SyncResult{Status: StatusError}

	if schemaName == "" {
		return result, fmt.Errorf("schema name is empty")
	}
	if err := snapshot.ValidateEntities(entities); err != nil {
		return result, err
	}

	exists, err := e.generator.SchemaExists(ctx, schemaName)
	if err != nil {
		return result, err
	}

	if !exists {
		res, err := e.generate(ctx, schemaName, entities, opts)
		telemetry.SyncTotal.With(string(res.Status)).Inc()
		return res, err
	}

	d, err := e.migrator.CalculateDiff(opts.StoredSnapshot, entities)
	if err != nil {
		return result, err
	}
	result.Diff = d

	if !d.HasChanges {
		// Metadata refresh only: cosmetic fields (codenames, presentation,
		// validation rules) may have moved without structural impact. Still
		// runs under the schema's lock so it cannot interleave with a
		// concurrent migration's metadata sync.
		if err := e.refreshMetadata(ctx, schemaName, entities, opts.UserID); err != nil {
			return result, err
		}
		snap := snapshot.Generate(opts.TreeID, entities)
		result.Status = StatusNoChanges
		result.Snapshot = &snap
		result.Hash = snapshot.Hash(snap)
		e.hashes.Add(schemaName, result.Hash)
		telemetry.SyncTotal.With(string(StatusNoChanges)).Inc()
		log.Debug().Str("schema", schemaName).Msg("Sync found no structural changes")
		return result, nil
	}

	applied, err := e.migrator.ApplyAllChanges(ctx, schemaName, d, entities, opts.ConfirmDestructive, schema.ApplyOptions{
		RecordMigration:         true,
		Migrations:              e.migrations,
		SnapshotBefore:          opts.StoredSnapshot,
		TreeID:                  opts.TreeID,
		UserID:                  opts.UserID,
		PublicationSnapshot:     opts.PublicationSnapshot,
		PublicationSnapshotHash: opts.PublicationSnapshotHash,
		PublicationID:           opts.PublicationID,
		PublicationVersionID:    opts.PublicationVersionID,
	})
	if err != nil {
		return result, err
	}

	result.Errors = applied.Errors
	result.ChangesApplied = applied.ChangesApplied
	result.Migration = applied.Migration
	result.Snapshot = applied.Snapshot
	result.Hash = applied.Hash

	switch applied.Status {
	case schema.StatusApplied:
		result.Status = StatusSynced
		e.hashes.Add(schemaName, result.Hash)
	case schema.StatusPendingConfirmation:
		result.Status = StatusPendingConfirmation
	default:
		result.Status = StatusError
	}
	telemetry.SyncTotal.With(string(result.Status)).Inc()
	return result, nil
}

// refreshMetadata reconciles the system metadata tables without DDL, inside
// one transaction under the schema's migration lock.
func (e *Engine) refreshMetadata(ctx context.Context, schemaName string, entities []snapshot.EntityDefinition, userID string) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	key := lock.MigrationKey(schemaName)
	acquired, err := lock.TryAcquire(ctx, conn, key)
	if err != nil {
		return err
	}
	if !acquired {
		telemetry.LockContentionTotal.Inc()
		return schema.ErrMigrationInProgress{Schema: schemaName}
	}
	defer func() {
		if err := lock.Release(context.Background(), conn, key); err != nil {
			log.Warn().Err(err).Str("schema", schemaName).Msg("Failed to release migration lock")
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metadata refresh transaction: %w", err)
	}
	defer tx.Rollback()

	if err := schema.SyncSystemMetadata(ctx, tx, schemaName, entities, schema.SyncMetadataOptions{
		RemoveMissing: true,
		UserID:        userID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metadata refresh: %w", err)
	}
	return nil
}

func (e *Engine) generate(ctx context.Context, schemaName string, entities []snapshot.EntityDefinition, opts SyncOptions) (SyncResult, error) {
	result := SyncResult{Status: StatusError}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return result, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	key := lock.MigrationKey(schemaName)
	acquired, err := lock.TryAcquire(ctx, conn, key)
	if err != nil {
		return result, err
	}
	if !acquired {
		telemetry.LockContentionTotal.Inc()
		return result, schema.ErrMigrationInProgress{Schema: schemaName}
	}
	defer func() {
		if err := lock.Release(context.Background(), conn, key); err != nil {
			log.Warn().Err(err).Str("schema", schemaName).Msg("Failed to release migration lock")
		}
	}()

	gen, err := e.generator.GenerateFullSchema(ctx, schemaName, entities, schema.GenerateOptions{
		RecordMigration:         true,
		MigrationDescription:    migration.NameInitialSchema,
		Migrations:              e.migrations,
		TreeID:                  opts.TreeID,
		UserID:                  opts.UserID,
		PublicationSnapshot:     opts.PublicationSnapshot,
		PublicationSnapshotHash: opts.PublicationSnapshotHash,
		PublicationID:           opts.PublicationID,
		PublicationVersionID:    opts.PublicationVersionID,
	})
	if err != nil {
		return result, err
	}

	result.TablesCreated = gen.TablesCreated
	result.Errors = gen.Errors
	result.Migration = gen.Migration
	result.Snapshot = gen.Snapshot
	result.Hash = gen.Hash
	if !gen.Success {
		return result, nil
	}

	result.Status = StatusCreated
	e.hashes.Add(schemaName, gen.Hash)
	return result, nil
}

// DropSchema irreversibly deletes a schema under its migration lock, for
// use inside the deletion flow of the owning record.
func (e *Engine) DropSchema(ctx context.Context, schemaName string) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	key := lock.MigrationKey(schemaName)
	acquired, err := lock.TryAcquire(ctx, conn, key)
	if err != nil {
		return err
	}
	if !acquired {
		telemetry.LockContentionTotal.Inc()
		return schema.ErrMigrationInProgress{Schema: schemaName}
	}
	defer func() {
		if err := lock.Release(context.Background(), conn, key); err != nil {
			log.Warn().Err(err).Str("schema", schemaName).Msg("Failed to release migration lock")
		}
	}()

	if err := schema.DropSchema(ctx, conn, schemaName); err != nil {
		return err
	}
	e.hashes.Remove(schemaName)
	return nil
}
