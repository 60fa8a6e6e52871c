package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/rs/zerolog/log"

	"github.com/metahubhq/schemacore/naming"
	"github.com/metahubhq/schemacore/snapshot"
)

var dialect = goqu.Dialect("postgres")

// SyncMetadataOptions controls system metadata reconciliation.
type SyncMetadataOptions struct {
	// RemoveMissing deletes metadata rows for entities and fields that are
	// no longer present in the supplied tree.
	RemoveMissing bool
	UserID        string
}

// SyncSystemMetadata reconciles the schema-local entity/field metadata
// tables with the supplied tree without touching physical DDL. It runs in
// whatever DBTX the caller provides, so the migrator can keep it inside the
// migration transaction.
func SyncSystemMetadata(ctx context.Context, q DBTX, schemaName string, entities []snapshot.EntityDefinition, opts SyncMetadataOptions) error {
	now := time.Now().UTC()

	entityIDs := make([]string, 0, len(entities))
	fieldIDs := make([]string, 0, 8)

	for _, e := range entities {
		entityIDs = append(entityIDs, e.ID)

		presentation, err := marshalOrNil(e.Presentation)
		if err != nil {
			return fmt.Errorf("marshal presentation for entity %q: %w", e.ID, err)
		}
		if err := upsert(ctx, q, schemaName, EntitiesTable, "entity_id", goqu.Record{
			"entity_id":    e.ID,
			"kind":         e.Kind,
			"codename":     e.Codename,
			"table_name":   naming.TableName(e.ID, e.Kind),
			"presentation": presentation,
			"updated_at":   now,
			"updated_by":   nullString(opts.UserID),
		}); err != nil {
			return fmt.Errorf("sync entity metadata for %q: %w", e.ID, err)
		}

		for _, f := range e.Fields {
			fieldIDs = append(fieldIDs, f.ID)

			rules, err := marshalOrNil(f.ValidationRules)
			if err != nil {
				return fmt.Errorf("marshal validation rules for field %q: %w", f.ID, err)
			}
			uiConfig, err := marshalOrNil(f.UIConfig)
			if err != nil {
				return fmt.Errorf("marshal ui config for field %q: %w", f.ID, err)
			}
			if err := upsert(ctx, q, schemaName, FieldsTable, "field_id", goqu.Record{
				"field_id":         f.ID,
				"entity_id":        e.ID,
				"codename":         f.Codename,
				"data_type":        string(f.DataType),
				"is_required":      f.IsRequired,
				"target_entity_id": nullString(f.TargetEntityID),
				"column_name":      naming.ColumnName(f.ID),
				"validation_rules": rules,
				"ui_config":        uiConfig,
				"sort_order":       f.SortOrder,
				"updated_at":       now,
				"updated_by":       nullString(opts.UserID),
			}); err != nil {
				return fmt.Errorf("sync field metadata for %q: %w", f.ID, err)
			}
		}
	}

	if opts.RemoveMissing {
		if err := deleteMissing(ctx, q, schemaName, FieldsTable, "field_id", fieldIDs); err != nil {
			return err
		}
		if err := deleteMissing(ctx, q, schemaName, EntitiesTable, "entity_id", entityIDs); err != nil {
			return err
		}
	}

	log.Debug().
		Str("schema", schemaName).
		Int("entities", len(entityIDs)).
		Int("fields", len(fieldIDs)).
		Bool("remove_missing", opts.RemoveMissing).
		Msg("System metadata synced")
	return nil
}

// ListEntityMetadata reads the system metadata tables back into entity
// definitions. Used for introspection and for reconstructing definitions
// when the metadata tree is not at hand.
func ListEntityMetadata(ctx context.Context, q DBTX, schemaName string) ([]snapshot.EntityDefinition, error) {
	entSQL, entArgs, err := dialect.From(goqu.S(schemaName).Table(EntitiesTable)).
		Select("entity_id", "kind", "codename", "presentation").
		Order(goqu.C("codename").Asc(), goqu.C("entity_id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build entity metadata query: %w", err)
	}

	rows, err := q.QueryContext(ctx, entSQL, entArgs...)
	if err != nil {
		return nil, fmt.Errorf("query entity metadata: %w", err)
	}
	defer rows.Close()

	var entities []snapshot.EntityDefinition
	index := make(map[string]int)
	for rows.Next() {
		var e snapshot.EntityDefinition
		var presentation []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Codename, &presentation); err != nil {
			return nil, fmt.Errorf("scan entity metadata: %w", err)
		}
		if len(presentation) > 0 {
			var p snapshot.Presentation
			if err := json.Unmarshal(presentation, &p); err != nil {
				return nil, fmt.Errorf("decode presentation for entity %q: %w", e.ID, err)
			}
			e.Presentation = &p
		}
		index[e.ID] = len(entities)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity metadata: %w", err)
	}

	fieldSQL, fieldArgs, err := dialect.From(goqu.S(schemaName).Table(FieldsTable)).
		Select("field_id", "entity_id", "codename", "data_type", "is_required",
			"target_entity_id", "validation_rules", "ui_config", "sort_order").
		Order(goqu.C("entity_id").Asc(), goqu.C("sort_order").Asc(), goqu.C("field_id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build field metadata query: %w", err)
	}

	fieldRows, err := q.QueryContext(ctx, fieldSQL, fieldArgs...)
	if err != nil {
		return nil, fmt.Errorf("query field metadata: %w", err)
	}
	defer fieldRows.Close()

	for fieldRows.Next() {
		var f snapshot.FieldDefinition
		var entityID string
		var dataType string
		var target sql.NullString
		var rules, uiConfig []byte
		if err := fieldRows.Scan(&f.ID, &entityID, &f.Codename, &dataType, &f.IsRequired,
			&target, &rules, &uiConfig, &f.SortOrder); err != nil {
			return nil, fmt.Errorf("scan field metadata: %w", err)
		}
		f.DataType = snapshot.DataType(dataType)
		f.TargetEntityID = target.String
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &f.ValidationRules); err != nil {
				return nil, fmt.Errorf("decode validation rules for field %q: %w", f.ID, err)
			}
		}
		if len(uiConfig) > 0 {
			if err := json.Unmarshal(uiConfig, &f.UIConfig); err != nil {
				return nil, fmt.Errorf("decode ui config for field %q: %w", f.ID, err)
			}
		}
		i, ok := index[entityID]
		if !ok {
			return nil, fmt.Errorf("field %q references entity %q missing from metadata", f.ID, entityID)
		}
		entities[i].Fields = append(entities[i].Fields, f)
	}
	if err := fieldRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field metadata: %w", err)
	}

	return entities, nil
}

func upsert(ctx context.Context, q DBTX, schemaName, table, conflictKey string, rec goqu.Record) error {
	update := goqu.Record{}
	for k, v := range rec {
		if k == conflictKey {
			continue
		}
		update[k] = v
	}
	sqlStr, args, err := dialect.Insert(goqu.S(schemaName).Table(table)).
		Rows(rec).
		OnConflict(goqu.DoUpdate(conflictKey, update)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert for %s: %w", table, err)
	}
	_, err = q.ExecContext(ctx, sqlStr, args...)
	return err
}

func deleteMissing(ctx context.Context, q DBTX, schemaName, table, keyColumn string, keep []string) error {
	ds := dialect.Delete(goqu.S(schemaName).Table(table))
	if len(keep) > 0 {
		ds = ds.Where(goqu.C(keyColumn).NotIn(keep))
	}
	sqlStr, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build cleanup for %s: %w", table, err)
	}
	if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("remove stale %s rows: %w", table, err)
	}
	return nil
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case *snapshot.Presentation:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
