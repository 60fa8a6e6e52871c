package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyForDeterministic(t *testing.T) {
	a := KeyFor("schema-migration:mhb_abc")
	b := KeyFor("schema-migration:mhb_abc")
	assert.Equal(t, a, b)
}

func TestKeyForNonNegative(t *testing.T) {
	seeds := []string{"", "a", "schema-migration:mhb_1", "x y z", "mhb_ffffffffffffffffffffffffffffffff"}
	for _, s := range seeds {
		assert.GreaterOrEqual(t, KeyFor(s), int64(0), "seed %q", s)
	}
}

func TestKeysScopedPerSchema(t *testing.T) {
	assert.NotEqual(t, MigrationKey("mhb_a"), MigrationKey("mhb_b"))
	// Same schema always maps to the same key.
	assert.Equal(t, MigrationKey("mhb_a"), MigrationKey("mhb_a"))
}
