package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/migration"
	"github.com/metahubhq/schemacore/naming"
	"github.com/metahubhq/schemacore/snapshot"
)

// Generator materializes a metadata tree as a brand-new physical schema.
type Generator struct {
	db *sql.DB
}

func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db}
}

// GenerateOptions controls full schema generation.
type GenerateOptions struct {
	// RecordMigration writes an initial migration record through
	// Migrations after a successful generation.
	RecordMigration      bool
	MigrationDescription string
	Migrations           *migration.Manager

	TreeID string
	UserID string

	PublicationSnapshot     json.RawMessage
	PublicationSnapshotHash string
	PublicationID           string
	PublicationVersionID    string
}

// GenerateResult reports the outcome of one generation. DDL failures land
// in Errors with Success false; the transaction is rolled back whole so no
// partial schema survives.
type GenerateResult struct {
	Success       bool
	SchemaName    string
	TablesCreated []string
	Errors        []string

	Migration *migration.Record
	Snapshot  *snapshot.Snapshot
	Hash      string
}

// SchemaExists checks the physical catalog for the schema.
func (g *Generator) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	var exists bool
	err := g.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schemaName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema %s: %w", schemaName, err)
	}
	return exists, nil
}

// GenerateFullSchema creates the schema (if absent), one table per entity
// with the platform system columns, FK constraints for reference fields,
// and the schema-local system metadata tables, all inside one transaction.
func (g *Generator) GenerateFullSchema(ctx context.Context, schemaName string, entities []snapshot.EntityDefinition, opts GenerateOptions) (GenerateResult, error) {
	result := GenerateResult{SchemaName: schemaName}

	if err := snapshot.ValidateEntities(entities); err != nil {
		return result, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin generation transaction: %w", err)
	}
	defer tx.Rollback()

	fail := func(stage string, err error) (GenerateResult, error) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stage, err))
		log.Error().Err(err).Str("schema", schemaName).Str("stage", stage).Msg("Schema generation failed")
		return result, nil
	}

	if _, err := tx.ExecContext(ctx, createSchemaSQL(schemaName)); err != nil {
		return fail("create schema", err)
	}
	if _, err := tx.ExecContext(ctx, entitiesTableSQL(schemaName)); err != nil {
		return fail("create entities metadata table", err)
	}
	if _, err := tx.ExecContext(ctx, fieldsTableSQL(schemaName)); err != nil {
		return fail("create fields metadata table", err)
	}

	byID := make(map[string]snapshot.EntityDefinition, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	for _, e := range entities {
		stmt, err := createTableSQL(schemaName, e)
		if err != nil {
			return fail("build table DDL", err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fail(fmt.Sprintf("create table for entity %q", e.Codename), err)
		}
		result.TablesCreated = append(result.TablesCreated, naming.TableName(e.ID, e.Kind))
	}

	// Constraints after all tables, so reference order never matters.
	for _, e := range entities {
		table := naming.TableName(e.ID, e.Kind)
		for _, f := range e.Fields {
			if f.TargetEntityID == "" {
				continue
			}
			target := byID[f.TargetEntityID]
			refTable := naming.TableName(target.ID, target.Kind)
			stmt := addFKSQL(schemaName, table, naming.ColumnName(f.ID), refTable)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fail(fmt.Sprintf("add foreign key for field %q of %q", f.Codename, e.Codename), err)
			}
		}
	}

	if err := SyncSystemMetadata(ctx, tx, schemaName, entities, SyncMetadataOptions{UserID: opts.UserID}); err != nil {
		return fail("sync system metadata", err)
	}

	snap := snapshot.Generate(opts.TreeID, entities)
	result.Snapshot = &snap
	result.Hash = snapshot.Hash(snap)

	if opts.RecordMigration && opts.Migrations != nil {
		if err := opts.Migrations.EnsureTable(ctx, tx, schemaName); err != nil {
			return fail("create migrations table", err)
		}
		initial, err := diff.Calculate(nil, entities)
		if err != nil {
			return fail("build initial change list", err)
		}
		name := opts.MigrationDescription
		if name == "" {
			name = migration.NameInitialSchema
		}
		rec, err := opts.Migrations.Append(ctx, tx, schemaName, name, migration.Meta{
			Summary:                 initial.Summary,
			Changes:                 initial.Changes(),
			SnapshotAfter:           &snap,
			PublicationSnapshotHash: opts.PublicationSnapshotHash,
			PublicationID:           opts.PublicationID,
			PublicationVersionID:    opts.PublicationVersionID,
		}, opts.PublicationSnapshot)
		if err != nil {
			return fail("record initial migration", err)
		}
		result.Migration = rec
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	result.Success = true
	log.Info().
		Str("schema", schemaName).
		Int("tables", len(result.TablesCreated)).
		Str("hash", result.Hash).
		Msg("Schema generated")
	return result, nil
}

// DropSchema irreversibly removes a schema and everything in it. Callers
// must run it inside the same transaction that deletes the owning record,
// guarded by the schema's migration lock.
func DropSchema(ctx context.Context, q DBTX, schemaName string) error {
	if schemaName == "" {
		return fmt.Errorf("schema name is empty")
	}
	if _, err := q.ExecContext(ctx, dropSchemaSQL(schemaName)); err != nil {
		return fmt.Errorf("drop schema %s: %w", schemaName, err)
	}
	log.Warn().Str("schema", schemaName).Msg("Schema dropped")
	return nil
}
