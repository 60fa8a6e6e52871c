package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/lock"
	"github.com/metahubhq/schemacore/migration"
	"github.com/metahubhq/schemacore/schema"
	"github.com/metahubhq/schemacore/snapshot"
	"github.com/metahubhq/schemacore/telemetry"
)

// RollbackStatus is the outcome class of one rollback request.
type RollbackStatus string

const (
	RollbackDone                RollbackStatus = "rolled_back"
	RollbackBlocked             RollbackStatus = "blocked"
	RollbackPendingConfirmation RollbackStatus = "pending_confirmation"
	RollbackError               RollbackStatus = "error"
)

// RollbackOptions controls one rollback execution.
type RollbackOptions struct {
	// ConfirmDataLoss acknowledges every warning in the analysis: data
	// written since the target migration will be discarded.
	ConfirmDataLoss bool

	TreeID string
	UserID string
}

// RollbackResult reports one rollback attempt. On success Snapshot and
// Hash describe the restored structure; the caller persists both.
type RollbackResult struct {
	Status   RollbackStatus
	Analysis *migration.RollbackAnalysis

	ChangesApplied int
	Errors         []string

	Snapshot  *snapshot.Snapshot
	Hash      string
	Migration *migration.Record
}

// Rollback restores a schema to the structure recorded by the target
// migration. This is a compensating-transaction walk, not a point-in-time
// restore: migrations newer than the target are undone newest-first by
// applying the inverse of each of their changes, their records are
// deleted, system metadata is rebuilt from the target's snapshot, and one
// rollback migration record is appended — all inside one transaction under
// the schema's advisory lock.
func (e *Engine) Rollback(ctx context.Context, schemaName string, targetID int64, opts RollbackOptions) (RollbackResult, error) {
	result := RollbackResult{Status: RollbackError}
	started := time.Now()

	if schemaName == "" {
		return result, fmt.Errorf("schema name is empty")
	}

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

	target, err := e.migrations.Get(ctx, schemaName, targetID)
	if err != nil {
		return result, err
	}

	analysis, err := e.migrations.AnalyzeRollbackPath(ctx, schemaName, targetID)
	if err != nil {
		return result, err
	}
	result.Analysis = analysis

	if !analysis.CanRollback {
		result.Status = RollbackBlocked
		telemetry.RollbackTotal.With(string(RollbackBlocked)).Inc()
		return result, nil
	}
	if len(analysis.Warnings) > 0 && !opts.ConfirmDataLoss {
		result.Status = RollbackPendingConfirmation
		result.Errors = append(result.Errors,
			fmt.Sprintf("rollback discards data: %d warning(s) require confirmation", len(analysis.Warnings)))
		telemetry.RollbackTotal.With(string(RollbackPendingConfirmation)).Inc()
		return result, nil
	}

	restored := target.Meta.SnapshotAfter
	restoredEntities := restored.EntityList()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	fail := func(err error) (RollbackResult, error) {
		result.Errors = append(result.Errors, err.Error())
		log.Error().Err(err).Str("schema", schemaName).Int64("target", targetID).Msg("Rollback failed, transaction aborted")
		telemetry.RollbackTotal.With(string(RollbackError)).Inc()
		return result, nil
	}

	for _, change := range analysis.RollbackChanges {
		if err := schema.ApplyChange(ctx, tx, schemaName, change, restoredEntities); err != nil {
			return fail(err)
		}
		telemetry.DDLStatementsTotal.Inc()
		result.ChangesApplied++
	}

	var snapshotBefore *snapshot.Snapshot
	for _, rec := range analysis.Path {
		if snapshotBefore == nil && rec.Meta.SnapshotAfter != nil {
			// Path is newest-first; the first snapshot seen is the
			// structure the schema had before this rollback.
			snapshotBefore = rec.Meta.SnapshotAfter
		}
		if err := e.migrations.Delete(ctx, tx, schemaName, rec.ID); err != nil {
			return fail(err)
		}
	}

	if err := schema.SyncSystemMetadata(ctx, tx, schemaName, restoredEntities, schema.SyncMetadataOptions{
		RemoveMissing: true,
		UserID:        opts.UserID,
	}); err != nil {
		return fail(err)
	}

	rec, err := e.migrations.Append(ctx, tx, schemaName, migration.NameRollback, migration.Meta{
		HasDestructive: true,
		Summary:        fmt.Sprintf("rolled back %d migration(s) to migration %d", len(analysis.Path), targetID),
		Changes:        analysis.RollbackChanges,
		SnapshotBefore: snapshotBefore,
		SnapshotAfter:  restored,
	}, nil)
	if err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit rollback: %w", err))
	}

	result.Status = RollbackDone
	result.Snapshot = restored
	result.Hash = snapshot.Hash(*restored)
	result.Migration = rec
	e.hashes.Add(schemaName, result.Hash)

	telemetry.RollbackTotal.With(string(RollbackDone)).Inc()
	telemetry.RollbackDurationSeconds.Observe(time.Since(started).Seconds())
	log.Info().
		Str("schema", schemaName).
		Int64("target", targetID).
		Int("undone", len(analysis.Path)).
		Str("hash", result.Hash).
		Msg("Schema rolled back")
	return result, nil
}
