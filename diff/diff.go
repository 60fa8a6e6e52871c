// Package diff compares a stored schema snapshot against a freshly supplied
// entity tree and classifies every structural delta as additive or
// destructive. The comparison is keyed purely on stable ids: renaming a
// codename produces no change, while swapping an id is indistinguishable
// from a drop plus an add and is classified exactly that way.
package diff

import (
	"fmt"
	"sort"

	"github.com/metahubhq/schemacore/naming"
	"github.com/metahubhq/schemacore/snapshot"
)

// ChangeType enumerates the fixed vocabulary of structural changes the
// engine knows how to detect, apply and invert.
type ChangeType string

const (
	AddTable    ChangeType = "ADD_TABLE"
	DropTable   ChangeType = "DROP_TABLE"
	AddColumn   ChangeType = "ADD_COLUMN"
	DropColumn  ChangeType = "DROP_COLUMN"
	AlterColumn ChangeType = "ALTER_COLUMN"
	AddFK       ChangeType = "ADD_FK"
	DropFK      ChangeType = "DROP_FK"
)

// Change is one atomic structural delta. Physical names are resolved at
// diff time so a persisted change can be re-applied or inverted later
// without access to the metadata tree that produced it.
type Change struct {
	Type        ChangeType `json:"type"`
	TableName   string     `json:"tableName"`
	ColumnName  string     `json:"columnName,omitempty"`
	Description string     `json:"description"`
	Destructive bool       `json:"destructive,omitempty"`

	EntityID string `json:"entityId,omitempty"`
	FieldID  string `json:"fieldId,omitempty"`

	// RefTableName is the referenced physical table for ADD_FK/DROP_FK.
	RefTableName string `json:"refTableName,omitempty"`

	// Type transitions for ALTER_COLUMN. Equal values mean the alteration
	// only touched the required flag.
	FromType snapshot.DataType `json:"fromType,omitempty"`
	ToType   snapshot.DataType `json:"toType,omitempty"`

	FromRequired *bool `json:"fromRequired,omitempty"`
	ToRequired   *bool `json:"toRequired,omitempty"`
}

// Diff is the classified result of one comparison.
type Diff struct {
	HasChanges  bool
	Additive    []Change
	Destructive []Change
	Summary     string
}

// RequiresConfirmation reports whether applying this diff needs the
// caller's explicit destructive-change confirmation.
func (d Diff) RequiresConfirmation() bool {
	return len(d.Destructive) > 0
}

// Changes returns additive changes followed by destructive ones, the order
// in which the migrator applies them.
func (d Diff) Changes() []Change {
	out := make([]Change, 0, len(d.Additive)+len(d.Destructive))
	out = append(out, d.Additive...)
	out = append(out, d.Destructive...)
	return out
}

// IsWidening reports whether a type transition is provably safe: every
// value of the old type has an exact representation in the new one.
func IsWidening(from, to snapshot.DataType) bool {
	if from == to {
		return false
	}
	if to == snapshot.TypeString {
		return true
	}
	return from == snapshot.TypeDate && to == snapshot.TypeDateTime
}

// Calculate compares an old snapshot (nil for a brand-new schema) against
// the new entity tree.
func Calculate(old *snapshot.Snapshot, entities []snapshot.EntityDefinition) (Diff, error) {
	if err := snapshot.ValidateEntities(entities); err != nil {
		return Diff{}, err
	}
	if old != nil {
		if err := old.Validate(); err != nil {
			return Diff{}, err
		}
	}

	var additive, destructive []Change

	newByID := make(map[string]snapshot.EntityDefinition, len(entities))
	for _, e := range entities {
		newByID[e.ID] = e
	}

	if old == nil {
		// Brand-new schema: one ADD_TABLE per entity, fields folded into
		// the creation. FK constraints are part of full generation.
		for _, e := range entities {
			additive = append(additive, Change{
				Type:        AddTable,
				TableName:   naming.TableName(e.ID, e.Kind),
				Description: fmt.Sprintf("create table for %s %q with %d field(s)", e.Kind, e.Codename, len(e.Fields)),
				EntityID:    e.ID,
			})
		}
		return finish(additive, destructive), nil
	}

	for _, e := range entities {
		oldEnt, existed := old.Entities[e.ID]
		table := naming.TableName(e.ID, e.Kind)
		if !existed {
			additive = append(additive, Change{
				Type:        AddTable,
				TableName:   table,
				Description: fmt.Sprintf("create table for %s %q with %d field(s)", e.Kind, e.Codename, len(e.Fields)),
				EntityID:    e.ID,
			})
			// Columns fold into the creation, but FKs to other tables are
			// separate changes so they apply after every table exists.
			for _, f := range e.Fields {
				if f.TargetEntityID == "" {
					continue
				}
				additive = append(additive, addFKChange(e, f, newByID))
			}
			continue
		}
		if oldEnt.Kind != e.Kind {
			// The kind is baked into the physical table name, so a kind
			// change moves the entity to a different table. Field-diffing
			// would leave all DDL aimed at a table that does not exist.
			destructive = append(destructive, Change{
				Type:        DropTable,
				TableName:   naming.TableName(e.ID, oldEnt.Kind),
				Description: fmt.Sprintf("drop table for %s %q, entity kind changed to %s (data will be lost)", oldEnt.Kind, oldEnt.Codename, e.Kind),
				Destructive: true,
				EntityID:    e.ID,
			})
			additive = append(additive, Change{
				Type:        AddTable,
				TableName:   table,
				Description: fmt.Sprintf("create table for %s %q with %d field(s)", e.Kind, e.Codename, len(e.Fields)),
				EntityID:    e.ID,
			})
			for _, f := range e.Fields {
				if f.TargetEntityID == "" {
					continue
				}
				additive = append(additive, addFKChange(e, f, newByID))
			}
			continue
		}
		a, d := diffFields(oldEnt, e, old, newByID)
		additive = append(additive, a...)
		destructive = append(destructive, d...)
	}

	for id, oldEnt := range old.Entities {
		if _, kept := newByID[id]; kept {
			continue
		}
		destructive = append(destructive, Change{
			Type:        DropTable,
			TableName:   naming.TableName(id, oldEnt.Kind),
			Description: fmt.Sprintf("drop table for %s %q (data will be lost)", oldEnt.Kind, oldEnt.Codename),
			Destructive: true,
			EntityID:    id,
		})
	}

	return finish(additive, destructive), nil
}

func diffFields(oldEnt, newEnt snapshot.EntityDefinition, old *snapshot.Snapshot, newByID map[string]snapshot.EntityDefinition) (additive, destructive []Change) {
	table := naming.TableName(newEnt.ID, newEnt.Kind)

	oldFields := make(map[string]snapshot.FieldDefinition, len(oldEnt.Fields))
	for _, f := range oldEnt.Fields {
		oldFields[f.ID] = f
	}
	newFields := make(map[string]snapshot.FieldDefinition, len(newEnt.Fields))
	for _, f := range newEnt.Fields {
		newFields[f.ID] = f
	}

	for _, f := range newEnt.Fields {
		oldField, existed := oldFields[f.ID]
		column := naming.ColumnName(f.ID)
		if !existed {
			additive = append(additive, Change{
				Type:        AddColumn,
				TableName:   table,
				ColumnName:  column,
				Description: fmt.Sprintf("add column %q to %q", f.Codename, newEnt.Codename),
				EntityID:    newEnt.ID,
				FieldID:     f.ID,
			})
			if f.TargetEntityID != "" {
				additive = append(additive, addFKChange(newEnt, f, newByID))
			}
			continue
		}

		if oldField.DataType != f.DataType || oldField.IsRequired != f.IsRequired {
			change := alterChange(newEnt, oldField, f, table, column)
			if change.Destructive {
				destructive = append(destructive, change)
			} else {
				additive = append(additive, change)
			}
		}

		if oldField.TargetEntityID != f.TargetEntityID {
			if oldField.TargetEntityID != "" {
				destructive = append(destructive, dropFKChange(oldEnt, oldField, old, table, column))
			}
			if f.TargetEntityID != "" {
				additive = append(additive, addFKChange(newEnt, f, newByID))
			}
		}
	}

	for _, f := range oldEnt.Fields {
		if _, kept := newFields[f.ID]; kept {
			continue
		}
		column := naming.ColumnName(f.ID)
		if f.TargetEntityID != "" {
			destructive = append(destructive, dropFKChange(oldEnt, f, old, table, column))
		}
		destructive = append(destructive, Change{
			Type:        DropColumn,
			TableName:   table,
			ColumnName:  column,
			Description: fmt.Sprintf("drop column %q from %q (data will be lost)", f.Codename, newEnt.Codename),
			Destructive: true,
			EntityID:    newEnt.ID,
			FieldID:     f.ID,
		})
	}

	return additive, destructive
}

func alterChange(ent snapshot.EntityDefinition, oldField, newField snapshot.FieldDefinition, table, column string) Change {
	safe := true
	if oldField.DataType != newField.DataType && !IsWidening(oldField.DataType, newField.DataType) {
		safe = false
	}
	if !oldField.IsRequired && newField.IsRequired {
		// Tightening nullable to required can fail on existing rows.
		safe = false
	}

	fromReq, toReq := oldField.IsRequired, newField.IsRequired
	desc := fmt.Sprintf("alter column %q of %q", newField.Codename, ent.Codename)
	if oldField.DataType != newField.DataType {
		desc += fmt.Sprintf(": type %s -> %s", oldField.DataType, newField.DataType)
	}
	if fromReq != toReq {
		if toReq {
			desc += ": set required"
		} else {
			desc += ": drop required"
		}
	}

	return Change{
		Type:         AlterColumn,
		TableName:    table,
		ColumnName:   column,
		Description:  desc,
		Destructive:  !safe,
		EntityID:     ent.ID,
		FieldID:      newField.ID,
		FromType:     oldField.DataType,
		ToType:       newField.DataType,
		FromRequired: &fromReq,
		ToRequired:   &toReq,
	}
}

func addFKChange(ent snapshot.EntityDefinition, f snapshot.FieldDefinition, byID map[string]snapshot.EntityDefinition) Change {
	table := naming.TableName(ent.ID, ent.Kind)
	column := naming.ColumnName(f.ID)
	target := byID[f.TargetEntityID]
	refTable := naming.TableName(target.ID, target.Kind)
	return Change{
		Type:         AddFK,
		TableName:    table,
		ColumnName:   column,
		Description:  fmt.Sprintf("add foreign key from %q.%q to %q", ent.Codename, f.Codename, target.Codename),
		EntityID:     ent.ID,
		FieldID:      f.ID,
		RefTableName: refTable,
	}
}

func dropFKChange(ent snapshot.EntityDefinition, f snapshot.FieldDefinition, old *snapshot.Snapshot, table, column string) Change {
	refTable := ""
	if target, ok := old.Entities[f.TargetEntityID]; ok {
		refTable = naming.TableName(target.ID, target.Kind)
	}
	return Change{
		Type:         DropFK,
		TableName:    table,
		ColumnName:   column,
		Description:  fmt.Sprintf("drop foreign key on %q.%q", ent.Codename, f.Codename),
		Destructive:  true,
		EntityID:     ent.ID,
		FieldID:      f.ID,
		RefTableName: refTable,
	}
}

// Application phases. Additive changes create referenced objects before the
// constraints that need them; destructive changes drop constraints before
// the columns and tables they depend on.
func phaseRank(t ChangeType) int {
	switch t {
	case AddTable:
		return 0
	case AddColumn:
		return 1
	case AlterColumn:
		return 2
	case AddFK:
		return 3
	case DropFK:
		return 0
	case DropColumn:
		return 2
	case DropTable:
		return 3
	}
	return 4
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if phaseRank(a.Type) != phaseRank(b.Type) {
			return phaseRank(a.Type) < phaseRank(b.Type)
		}
		if a.TableName != b.TableName {
			return a.TableName < b.TableName
		}
		return a.ColumnName < b.ColumnName
	})
}

func finish(additive, destructive []Change) Diff {
	sortChanges(additive)
	sortChanges(destructive)
	return Diff{
		HasChanges:  len(additive)+len(destructive) > 0,
		Additive:    additive,
		Destructive: destructive,
		Summary:     fmt.Sprintf("%d additive, %d destructive change(s)", len(additive), len(destructive)),
	}
}
