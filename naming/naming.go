// Package naming derives physical PostgreSQL identifiers from opaque
// metadata ids. All functions are pure and deterministic: the same input
// always yields the same identifier, so constraint names can be rebuilt
// during rollback without querying information_schema.
//
// Identifiers are derived from stable ids, never from codenames, so
// renaming an entity or field in the UI never requires a physical rename.
package naming

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxIdentifierLen is PostgreSQL's identifier limit (NAMEDATALEN - 1).
const MaxIdentifierLen = 63

// Kind discriminators baked into table names. Distinct prefixes guarantee
// that two entities of different kinds never collide within one schema.
const (
	prefixCatalog = "cat"
	prefixHub     = "hub"
	prefixEntity  = "ent"
)

// SchemaName derives the physical schema identifier for an owning record.
func SchemaName(ownerID string) string {
	return truncate("mhb_" + sanitize(ownerID))
}

// TableName derives the physical table identifier for an entity.
func TableName(entityID, kind string) string {
	prefix := prefixEntity
	switch kind {
	case "catalog":
		prefix = prefixCatalog
	case "hub":
		prefix = prefixHub
	}
	return truncate(prefix + "_" + sanitize(entityID))
}

// ColumnName derives the physical column identifier for a field.
func ColumnName(fieldID string) string {
	return truncate("f_" + sanitize(fieldID))
}

// FKConstraintName derives the foreign key constraint name for a reference
// column. Reproducible, so DROP CONSTRAINT IF EXISTS always finds it.
func FKConstraintName(tableName, columnName string) string {
	return truncate("fk_" + tableName + "_" + columnName)
}

// sanitize lowercases and strips everything outside [a-z0-9_]. UUID dashes
// disappear, which keeps derived names compact.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

// truncate bounds an identifier to MaxIdentifierLen. Long names keep their
// head and gain a fixed 16-hex-digit xxhash suffix of the full name, so
// distinct long inputs stay distinct after truncation.
func truncate(name string) string {
	if len(name) <= MaxIdentifierLen {
		return name
	}
	suffix := fmt.Sprintf("%016x", xxhash.Sum64String(name))
	head := name[:MaxIdentifierLen-len(suffix)-1]
	return head + "_" + suffix
}
