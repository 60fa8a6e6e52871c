package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/naming"
	"github.com/metahubhq/schemacore/snapshot"
)

// System metadata tables created in every generated schema. The entities
// and fields tables make a schema introspectable without access to the
// original metadata tree; the migrations table is owned by the migration
// package.
const (
	EntitiesTable = "_app_entities"
	FieldsTable   = "_app_fields"
)

// systemColumns is the fixed row-lifecycle column set every generated table
// carries beyond its caller-defined fields: primary key, audit timestamps
// and actors, soft delete, and row locking. The shape must stay identical
// across versions for compatibility with existing managed data.
var systemColumns = []string{
	`"id" UUID PRIMARY KEY DEFAULT gen_random_uuid()`,
	`"created_at" TIMESTAMPTZ NOT NULL DEFAULT now()`,
	`"created_by" UUID`,
	`"updated_at" TIMESTAMPTZ NOT NULL DEFAULT now()`,
	`"updated_by" UUID`,
	`"is_deleted" BOOLEAN NOT NULL DEFAULT false`,
	`"deleted_at" TIMESTAMPTZ`,
	`"deleted_by" UUID`,
	`"is_locked" BOOLEAN NOT NULL DEFAULT false`,
	`"locked_at" TIMESTAMPTZ`,
	`"locked_by" UUID`,
	`"lock_reason" TEXT`,
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(schemaName, table string) string {
	return quoteIdent(schemaName) + "." + quoteIdent(table)
}

func createSchemaSQL(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(schemaName)
}

func dropSchemaSQL(schemaName string) string {
	return "DROP SCHEMA IF EXISTS " + quoteIdent(schemaName) + " CASCADE"
}

// createTableSQL builds the CREATE TABLE statement for one entity: system
// columns first, then one physical column per field. FK constraints are
// added separately so table creation order never matters.
func createTableSQL(schemaName string, ent snapshot.EntityDefinition) (string, error) {
	table := naming.TableName(ent.ID, ent.Kind)
	cols := make([]string, 0, len(systemColumns)+len(ent.Fields))
	cols = append(cols, systemColumns...)

	fields := make([]snapshot.FieldDefinition, len(ent.Fields))
	copy(fields, ent.Fields)
	for _, f := range fields {
		sqlType, err := ColumnType(f.DataType)
		if err != nil {
			return "", fmt.Errorf("entity %q field %q: %w", ent.Codename, f.Codename, err)
		}
		col := quoteIdent(naming.ColumnName(f.ID)) + " " + sqlType
		if f.IsRequired {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		qualified(schemaName, table), strings.Join(cols, ",\n\t")), nil
}

func addColumnSQL(schemaName, table, column, sqlType string) string {
	// NOT NULL is never applied when adding to an existing table: rows
	// already present could not satisfy it. The required flag still lands
	// in the field metadata.
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		qualified(schemaName, table), quoteIdent(column), sqlType)
}

func dropColumnSQL(schemaName, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
		qualified(schemaName, table), quoteIdent(column))
}

func dropTableSQL(schemaName, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified(schemaName, table))
}

func alterColumnTypeSQL(schemaName, table, column, sqlType string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		qualified(schemaName, table), quoteIdent(column), sqlType, quoteIdent(column), sqlType)
}

func setNotNullSQL(schemaName, table, column string, required bool) string {
	verb := "DROP"
	if required {
		verb = "SET"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL",
		qualified(schemaName, table), quoteIdent(column), verb)
}

func addFKSQL(schemaName, table, column, refTable string) string {
	constraint := naming.FKConstraintName(table, column)
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (\"id\")",
		qualified(schemaName, table), quoteIdent(constraint), quoteIdent(column), qualified(schemaName, refTable))
}

func dropFKSQL(schemaName, table, column string) string {
	constraint := naming.FKConstraintName(table, column)
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
		qualified(schemaName, table), quoteIdent(constraint))
}

func entitiesTableSQL(schemaName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"entity_id" TEXT PRIMARY KEY,
	"kind" TEXT NOT NULL,
	"codename" TEXT NOT NULL,
	"table_name" TEXT NOT NULL,
	"presentation" JSONB,
	"updated_at" TIMESTAMPTZ NOT NULL DEFAULT now(),
	"updated_by" TEXT
)`, qualified(schemaName, EntitiesTable))
}

func fieldsTableSQL(schemaName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"field_id" TEXT PRIMARY KEY,
	"entity_id" TEXT NOT NULL REFERENCES %s ("entity_id") ON DELETE CASCADE,
	"codename" TEXT NOT NULL,
	"data_type" TEXT NOT NULL,
	"is_required" BOOLEAN NOT NULL DEFAULT false,
	"target_entity_id" TEXT,
	"column_name" TEXT NOT NULL,
	"validation_rules" JSONB,
	"ui_config" JSONB,
	"sort_order" INTEGER NOT NULL DEFAULT 0,
	"updated_at" TIMESTAMPTZ NOT NULL DEFAULT now(),
	"updated_by" TEXT
)`, qualified(schemaName, FieldsTable), qualified(schemaName, EntitiesTable))
}

// ApplyChange executes the DDL for one change. Used by rollback execution,
// which replays inverted changes outside a full diff apply.
func ApplyChange(ctx context.Context, q DBTX, schemaName string, c diff.Change, entities []snapshot.EntityDefinition) error {
	byID := make(map[string]snapshot.EntityDefinition, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	stmts, err := changeSQL(schemaName, c, byID)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s on %s: %w", c.Type, c.TableName, err)
		}
	}
	return nil
}

// changeSQL translates one diff change into the DDL statements that apply
// it. ALTER_COLUMN can expand to two statements (type, then nullability).
func changeSQL(schemaName string, c diff.Change, byID map[string]snapshot.EntityDefinition) ([]string, error) {
	switch c.Type {
	case diff.AddTable:
		ent, ok := byID[c.EntityID]
		if !ok {
			return nil, fmt.Errorf("ADD_TABLE for unknown entity %q", c.EntityID)
		}
		stmt, err := createTableSQL(schemaName, ent)
		if err != nil {
			return nil, err
		}
		return []string{stmt}, nil

	case diff.DropTable:
		return []string{dropTableSQL(schemaName, c.TableName)}, nil

	case diff.AddColumn:
		f, err := fieldFor(byID, c.EntityID, c.FieldID)
		if err != nil {
			return nil, err
		}
		sqlType, err := ColumnType(f.DataType)
		if err != nil {
			return nil, err
		}
		return []string{addColumnSQL(schemaName, c.TableName, c.ColumnName, sqlType)}, nil

	case diff.DropColumn:
		return []string{dropColumnSQL(schemaName, c.TableName, c.ColumnName)}, nil

	case diff.AlterColumn:
		var stmts []string
		if c.ToType != "" && c.ToType != c.FromType {
			sqlType, err := ColumnType(c.ToType)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, alterColumnTypeSQL(schemaName, c.TableName, c.ColumnName, sqlType))
		}
		if c.FromRequired != nil && c.ToRequired != nil && *c.FromRequired != *c.ToRequired {
			stmts = append(stmts, setNotNullSQL(schemaName, c.TableName, c.ColumnName, *c.ToRequired))
		}
		if len(stmts) == 0 {
			return nil, fmt.Errorf("ALTER_COLUMN change for %s.%s carries no alteration", c.TableName, c.ColumnName)
		}
		return stmts, nil

	case diff.AddFK:
		if c.RefTableName == "" {
			return nil, fmt.Errorf("ADD_FK change for %s.%s has no referenced table", c.TableName, c.ColumnName)
		}
		return []string{addFKSQL(schemaName, c.TableName, c.ColumnName, c.RefTableName)}, nil

	case diff.DropFK:
		return []string{dropFKSQL(schemaName, c.TableName, c.ColumnName)}, nil
	}
	return nil, fmt.Errorf("unknown change type %q", c.Type)
}

func fieldFor(byID map[string]snapshot.EntityDefinition, entityID, fieldID string) (snapshot.FieldDefinition, error) {
	ent, ok := byID[entityID]
	if !ok {
		return snapshot.FieldDefinition{}, fmt.Errorf("change references unknown entity %q", entityID)
	}
	for _, f := range ent.Fields {
		if f.ID == fieldID {
			return f, nil
		}
	}
	return snapshot.FieldDefinition{}, fmt.Errorf("change references unknown field %q of entity %q", fieldID, entityID)
}
