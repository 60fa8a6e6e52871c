package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash returns the SHA-256 hex digest of the snapshot's canonical form.
//
// Canonicalization sorts entities by kind/codename/id and fields by
// sortOrder/codename/id, so two snapshots with identical structure but
// different map or array ordering always hash identically. This is the
// correctness guarantee behind no-change detection: callers compare this
// hash against the one stored with the previous snapshot.
//
// Presentation, validation rules and UI config are excluded: they never
// affect DDL, and cosmetic edits must not report the schema as out of sync.
func Hash(s Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("v%d\n", s.Version))

	entities := s.EntityList()
	for _, e := range entities {
		b.WriteString("entity|")
		b.WriteString(e.ID)
		b.WriteString("|")
		b.WriteString(e.Kind)
		b.WriteString("|")
		b.WriteString(e.Codename)
		b.WriteString("\n")

		fields := make([]FieldDefinition, len(e.Fields))
		copy(fields, e.Fields)
		sortFields(fields)
		for _, f := range fields {
			b.WriteString("field|")
			b.WriteString(f.ID)
			b.WriteString("|")
			b.WriteString(f.Codename)
			b.WriteString("|")
			b.WriteString(string(f.DataType))
			b.WriteString("|")
			b.WriteString(fmt.Sprintf("%t", f.IsRequired))
			b.WriteString("|")
			b.WriteString(f.TargetEntityID)
			b.WriteString("\n")
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashEntities is a convenience for hashing an entity list without building
// a snapshot first. Equivalent to Hash(Generate(treeID, entities)) for any
// treeID, since neither tree id nor generation time enter the hash input.
func HashEntities(entities []EntityDefinition) string {
	byID := make(map[string]EntityDefinition, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	return Hash(Snapshot{Version: CurrentVersion, Entities: byID})
}
