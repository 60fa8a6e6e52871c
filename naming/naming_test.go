package naming

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaNameDeterministic(t *testing.T) {
	owner := "3E1F8A1C-9D2B-4E6A-B1C4-0F4D6A7E8B90"

	a := SchemaName(owner)
	b := SchemaName(owner)
	assert.Equal(t, a, b)
	assert.Equal(t, "mhb_3e1f8a1c9d2b4e6ab1c40f4d6a7e8b90", a)
	assert.LessOrEqual(t, len(a), MaxIdentifierLen)
}

func TestTableNameKindDiscriminator(t *testing.T) {
	id := uuid.NewString()

	cat := TableName(id, "catalog")
	hub := TableName(id, "hub")
	other := TableName(id, "widget")

	assert.NotEqual(t, cat, hub)
	assert.True(t, strings.HasPrefix(cat, "cat_"))
	assert.True(t, strings.HasPrefix(hub, "hub_"))
	assert.True(t, strings.HasPrefix(other, "ent_"))
}

func TestColumnNameIgnoresCase(t *testing.T) {
	assert.Equal(t, ColumnName("ABC-def"), ColumnName("abc-DEF"))
}

func TestFKConstraintNameReproducible(t *testing.T) {
	table := TableName(uuid.NewString(), "catalog")
	column := ColumnName(uuid.NewString())

	assert.Equal(t, FKConstraintName(table, column), FKConstraintName(table, column))
}

func TestLongNamesTruncatedWithDistinctSuffix(t *testing.T) {
	long1 := strings.Repeat("a", 100) + "1"
	long2 := strings.Repeat("a", 100) + "2"

	n1 := FKConstraintName(long1, "col")
	n2 := FKConstraintName(long2, "col")

	require.LessOrEqual(t, len(n1), MaxIdentifierLen)
	require.LessOrEqual(t, len(n2), MaxIdentifierLen)
	assert.NotEqual(t, n1, n2)
	// Re-derivation yields the same truncated name.
	assert.Equal(t, n1, FKConstraintName(long1, "col"))
}

func TestSanitizeNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, ColumnName("!!!"))
	assert.LessOrEqual(t, len(ColumnName("!!!")), MaxIdentifierLen)
}
