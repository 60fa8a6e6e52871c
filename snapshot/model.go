package snapshot

import (
	"fmt"
	"sort"
	"time"
)

// DataType is the logical type of a field. It determines the physical SQL
// type category of the backing column; everything else about a field is
// presentational metadata.
type DataType string

const (
	TypeString    DataType = "string"
	TypeNumber    DataType = "number"
	TypeBoolean   DataType = "boolean"
	TypeJSON      DataType = "json"
	TypeDate      DataType = "date"
	TypeDateTime  DataType = "datetime"
	TypeReference DataType = "reference"
)

// Entity kinds. The kind participates in physical table naming, so two
// entities of different kinds can never collide within one schema.
const (
	KindCatalog = "catalog"
	KindHub     = "hub"
)

// CurrentVersion is the snapshot format version written by Generate.
const CurrentVersion = 1

// Presentation holds localized display metadata. It is carried in snapshots
// for UI use but never participates in the content hash: renaming display
// text must not flip a schema into a needs-sync state.
type Presentation struct {
	Name        map[string]string `json:"name,omitempty"`
	Description map[string]string `json:"description,omitempty"`
}

// FieldDefinition describes one column of an entity. The stable ID drives
// the physical column name; codename is presentational only.
type FieldDefinition struct {
	ID              string         `json:"id"`
	Codename        string         `json:"codename"`
	DataType        DataType       `json:"dataType"`
	IsRequired      bool           `json:"isRequired"`
	TargetEntityID  string         `json:"targetEntityId,omitempty"`
	ValidationRules map[string]any `json:"validationRules,omitempty"`
	UIConfig        map[string]any `json:"uiConfig,omitempty"`
	SortOrder       int            `json:"sortOrder"`
}

// EntityDefinition describes one structural unit to materialize as a table.
type EntityDefinition struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Codename     string            `json:"codename"`
	Fields       []FieldDefinition `json:"fields"`
	Presentation *Presentation     `json:"presentation,omitempty"`
}

// Snapshot is the frozen record of an entity tree at one point in time.
// Snapshots are never mutated in place; every sync replaces them wholesale.
type Snapshot struct {
	Version     int                         `json:"version"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	TreeID      string                      `json:"treeId,omitempty"`
	Entities    map[string]EntityDefinition `json:"entities"`
}

// ValidationError reports a malformed snapshot or entity tree. Nothing is
// processed once validation fails; the core never repairs input.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid snapshot: %s", e.Reason)
}

// Generate wraps an entity list with generation metadata, keyed by entity ID.
// Pure function, no I/O.
func Generate(treeID string, entities []EntityDefinition) Snapshot {
	byID := make(map[string]EntityDefinition, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	return Snapshot{
		Version:     CurrentVersion,
		GeneratedAt: time.Now().UTC(),
		TreeID:      treeID,
		Entities:    byID,
	}
}

// EntityList is the inverse projection of Generate: the snapshot's entities
// as a list in canonical order, ready to feed the diff engine or the
// generator.
func (s Snapshot) EntityList() []EntityDefinition {
	out := make([]EntityDefinition, 0, len(s.Entities))
	for _, e := range s.Entities {
		out = append(out, e)
	}
	sortEntities(out)
	return out
}

// Validate rejects snapshots the rest of the core cannot interpret.
func (s Snapshot) Validate() error {
	if s.Version != CurrentVersion {
		return ValidationError{Reason: fmt.Sprintf("unsupported version %d", s.Version)}
	}
	if s.Entities == nil {
		return ValidationError{Reason: "missing entities map"}
	}
	for key, e := range s.Entities {
		if e.ID == "" {
			return ValidationError{Reason: fmt.Sprintf("entity under key %q has empty id", key)}
		}
		if key != e.ID {
			return ValidationError{Reason: fmt.Sprintf("entity key %q does not match id %q", key, e.ID)}
		}
		if err := validateEntity(e); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEntities checks a caller-supplied entity tree before any DDL is
// attempted: globally unique entity ids, unique field ids per entity, known
// data types, and reference targets that exist within the tree.
func ValidateEntities(entities []EntityDefinition) error {
	seen := make(map[string]struct{}, len(entities))
	ids := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		ids[e.ID] = struct{}{}
	}
	for _, e := range entities {
		if e.ID == "" {
			return ValidationError{Reason: fmt.Sprintf("entity %q has empty id", e.Codename)}
		}
		if _, dup := seen[e.ID]; dup {
			return ValidationError{Reason: fmt.Sprintf("duplicate entity id %q", e.ID)}
		}
		seen[e.ID] = struct{}{}
		if err := validateEntity(e); err != nil {
			return err
		}
		for _, f := range e.Fields {
			if f.TargetEntityID != "" {
				if _, ok := ids[f.TargetEntityID]; !ok {
					return ValidationError{Reason: fmt.Sprintf("field %q of entity %q references unknown entity %q", f.ID, e.ID, f.TargetEntityID)}
				}
			}
		}
	}
	return nil
}

func validateEntity(e EntityDefinition) error {
	fieldIDs := make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		if f.ID == "" {
			return ValidationError{Reason: fmt.Sprintf("entity %q has a field with empty id", e.ID)}
		}
		if _, dup := fieldIDs[f.ID]; dup {
			return ValidationError{Reason: fmt.Sprintf("entity %q has duplicate field id %q", e.ID, f.ID)}
		}
		fieldIDs[f.ID] = struct{}{}
		if !knownType(f.DataType) {
			return ValidationError{Reason: fmt.Sprintf("field %q of entity %q has unknown data type %q", f.ID, e.ID, f.DataType)}
		}
	}
	return nil
}

func knownType(dt DataType) bool {
	switch dt {
	case TypeString, TypeNumber, TypeBoolean, TypeJSON, TypeDate, TypeDateTime, TypeReference:
		return true
	}
	return false
}

// sortEntities orders entities by kind, then codename, then id. This is the
// canonical order used by both Entities and the content hash.
func sortEntities(entities []EntityDefinition) {
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Codename != b.Codename {
			return a.Codename < b.Codename
		}
		return a.ID < b.ID
	})
}

// sortFields orders fields by sort order, then codename, then id.
func sortFields(fields []FieldDefinition) {
	sort.Slice(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if a.Codename != b.Codename {
			return a.Codename < b.Codename
		}
		return a.ID < b.ID
	})
}
