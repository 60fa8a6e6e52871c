package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/lock"
	"github.com/metahubhq/schemacore/migration"
	"github.com/metahubhq/schemacore/snapshot"
	"github.com/metahubhq/schemacore/telemetry"
)

// ApplyStatus tells the caller which branch to take. Failures the caller
// must render (pending confirmation, DDL errors) are statuses, not Go
// errors; only infrastructure problems propagate as errors.
type ApplyStatus string

const (
	StatusApplied             ApplyStatus = "applied"
	StatusPendingConfirmation ApplyStatus = "pending_confirmation"
	StatusFailed              ApplyStatus = "error"
)

// ErrMigrationInProgress reports advisory lock contention: another sync or
// rollback of the same schema is running. Never retried here; the caller
// decides whether to surface a try-again condition.
type ErrMigrationInProgress struct {
	Schema string
}

func (e ErrMigrationInProgress) Error() string {
	return fmt.Sprintf("schema %s: migration already in progress", e.Schema)
}

// Migrator applies a calculated diff against an existing schema.
type Migrator struct {
	db *sql.DB
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// CalculateDiff delegates to the diff engine; applying is this component's
// own responsibility.
func (m *Migrator) CalculateDiff(old *snapshot.Snapshot, entities []snapshot.EntityDefinition) (diff.Diff, error) {
	return diff.Calculate(old, entities)
}

// ApplyOptions controls one ApplyAllChanges call.
type ApplyOptions struct {
	RecordMigration      bool
	MigrationDescription string
	Migrations           *migration.Manager

	// SnapshotBefore is the previously stored snapshot, captured in the
	// migration record for rollback analysis.
	SnapshotBefore *snapshot.Snapshot

	TreeID string
	UserID string

	PublicationSnapshot     json.RawMessage
	PublicationSnapshotHash string
	PublicationID           string
	PublicationVersionID    string
}

// ApplyResult reports one apply attempt. On DDL failure the transaction is
// rolled back whole, so ChangesApplied is zero: PostgreSQL DDL is
// transactional and no partial change survives.
type ApplyResult struct {
	Status         ApplyStatus
	Success        bool
	ChangesApplied int
	Errors         []string

	Migration *migration.Record
	Snapshot  *snapshot.Snapshot
	Hash      string
}

// ApplyAllChanges applies every change of the diff inside one transaction,
// guarded by the schema's advisory lock. Additive changes run before
// destructive ones; within destructive changes FK drops precede the column
// and table drops that depend on them (the diff engine orders both
// buckets). System metadata is reconciled in the same transaction.
//
// Destructive changes require confirmDestructive; without it the call
// performs no DDL and returns a pending-confirmation result so the caller
// can render a preview.
func (m *Migrator) ApplyAllChanges(ctx context.Context, schemaName string, d diff.Diff, entities []snapshot.EntityDefinition, confirmDestructive bool, opts ApplyOptions) (ApplyResult, error) {
	result := ApplyResult{Status: StatusFailed}
	started := time.Now()

	if err := snapshot.ValidateEntities(entities); err != nil {
		return result, err
	}

	if d.RequiresConfirmation() && !confirmDestructive {
		result.Status = StatusPendingConfirmation
		result.Errors = append(result.Errors,
			fmt.Sprintf("destructive changes require confirmation: %s", d.Summary))
		return result, nil
	}

	conn, err := m.db.Conn(ctx)
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
		return result, ErrMigrationInProgress{Schema: schemaName}
	}
	defer func() {
		if err := lock.Release(context.Background(), conn, key); err != nil {
			log.Warn().Err(err).Str("schema", schemaName).Msg("Failed to release migration lock")
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	byID := make(map[string]snapshot.EntityDefinition, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	applied := 0
	for _, change := range d.Changes() {
		stmts, err := changeSQL(schemaName, change, byID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, nil
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("apply %s on %s: %v", change.Type, change.TableName, err))
				log.Error().Err(err).
					Str("schema", schemaName).
					Str("change", string(change.Type)).
					Str("table", change.TableName).
					Msg("DDL failed, rolling back migration")
				telemetry.ApplyTotal.With("error").Inc()
				return result, nil
			}
			telemetry.DDLStatementsTotal.Inc()
		}
		applied++
	}

	if err := SyncSystemMetadata(ctx, tx, schemaName, entities, SyncMetadataOptions{
		RemoveMissing: true,
		UserID:        opts.UserID,
	}); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	snap := snapshot.Generate(opts.TreeID, entities)
	result.Snapshot = &snap
	result.Hash = snapshot.Hash(snap)

	if opts.RecordMigration && opts.Migrations != nil {
		if err := opts.Migrations.EnsureTable(ctx, tx, schemaName); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, nil
		}
		name := opts.MigrationDescription
		if name == "" {
			name = migration.NameSchemaSync
		}
		rec, err := opts.Migrations.Append(ctx, tx, schemaName, name, migration.Meta{
			HasDestructive:          d.RequiresConfirmation(),
			Summary:                 d.Summary,
			Changes:                 d.Changes(),
			SnapshotBefore:          opts.SnapshotBefore,
			SnapshotAfter:           &snap,
			PublicationSnapshotHash: opts.PublicationSnapshotHash,
			PublicationID:           opts.PublicationID,
			PublicationVersionID:    opts.PublicationVersionID,
		}, opts.PublicationSnapshot)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, nil
		}
		result.Migration = rec
	}

	if err := tx.Commit(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("commit: %v", err))
		return result, nil
	}

	result.Status = StatusApplied
	result.Success = true
	result.ChangesApplied = applied
	telemetry.ApplyTotal.With("success").Inc()
	telemetry.ApplyDurationSeconds.Observe(time.Since(started).Seconds())

	log.Info().
		Str("schema", schemaName).
		Int("changes", applied).
		Bool("destructive", d.RequiresConfirmation()).
		Str("hash", result.Hash).
		Msg("Schema changes applied")
	return result, nil
}
