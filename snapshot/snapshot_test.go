package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceEntity() EntityDefinition {
	return EntityDefinition{
		ID:       "e1",
		Kind:     KindCatalog,
		Codename: "Invoice",
		Fields: []FieldDefinition{
			{ID: "f1", Codename: "total", DataType: TypeNumber, IsRequired: true, SortOrder: 1},
			{ID: "f2", Codename: "currency", DataType: TypeString, SortOrder: 2},
		},
	}
}

func customerEntity() EntityDefinition {
	return EntityDefinition{
		ID:       "e2",
		Kind:     KindCatalog,
		Codename: "Customer",
		Fields: []FieldDefinition{
			{ID: "f3", Codename: "name", DataType: TypeString, IsRequired: true, SortOrder: 1},
		},
	}
}

func TestGenerateKeysEntitiesByID(t *testing.T) {
	snap := Generate("tree-1", []EntityDefinition{invoiceEntity(), customerEntity()})

	assert.Equal(t, CurrentVersion, snap.Version)
	assert.Equal(t, "tree-1", snap.TreeID)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "Invoice", snap.Entities["e1"].Codename)
	assert.Equal(t, "Customer", snap.Entities["e2"].Codename)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestEntityListRoundTrip(t *testing.T) {
	in := []EntityDefinition{invoiceEntity(), customerEntity()}
	out := Generate("tree-1", in).EntityList()

	require.Len(t, out, 2)
	// Canonical order: same kind, so codename decides.
	assert.Equal(t, "Customer", out[0].Codename)
	assert.Equal(t, "Invoice", out[1].Codename)
}

func TestHashStableUnderEntityPermutation(t *testing.T) {
	a := Generate("t", []EntityDefinition{invoiceEntity(), customerEntity()})
	b := Generate("t", []EntityDefinition{customerEntity(), invoiceEntity()})

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashStableUnderFieldPermutation(t *testing.T) {
	e := invoiceEntity()
	shuffled := invoiceEntity()
	shuffled.Fields[0], shuffled.Fields[1] = shuffled.Fields[1], shuffled.Fields[0]

	assert.Equal(t,
		HashEntities([]EntityDefinition{e}),
		HashEntities([]EntityDefinition{shuffled}))
}

func TestHashIgnoresPresentationAndMetadata(t *testing.T) {
	plain := invoiceEntity()

	decorated := invoiceEntity()
	decorated.Presentation = &Presentation{
		Name: map[string]string{"en": "Invoice", "de": "Rechnung"},
	}
	decorated.Fields[0].ValidationRules = map[string]any{"min": 0}
	decorated.Fields[1].UIConfig = map[string]any{"widget": "dropdown"}

	assert.Equal(t,
		HashEntities([]EntityDefinition{plain}),
		HashEntities([]EntityDefinition{decorated}))
}

func TestHashChangesOnStructuralEdit(t *testing.T) {
	base := HashEntities([]EntityDefinition{invoiceEntity()})

	altered := invoiceEntity()
	altered.Fields[0].DataType = TypeString
	assert.NotEqual(t, base, HashEntities([]EntityDefinition{altered}))

	grown := invoiceEntity()
	grown.Fields = append(grown.Fields, FieldDefinition{
		ID: "f9", Codename: "notes", DataType: TypeString, SortOrder: 3,
	})
	assert.NotEqual(t, base, HashEntities([]EntityDefinition{grown}))
}

func TestHashMatchesAfterJSONRoundTrip(t *testing.T) {
	snap := Generate("tree-1", []EntityDefinition{invoiceEntity(), customerEntity()})

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, Hash(snap), Hash(decoded))
}

func TestValidateRejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"wrong version", Snapshot{Version: 99, Entities: map[string]EntityDefinition{}}},
		{"missing entities", Snapshot{Version: CurrentVersion}},
		{"key/id mismatch", Snapshot{
			Version:  CurrentVersion,
			Entities: map[string]EntityDefinition{"x": {ID: "e1", Kind: KindCatalog}},
		}},
		{"unknown data type", Snapshot{
			Version: CurrentVersion,
			Entities: map[string]EntityDefinition{"e1": {
				ID: "e1", Kind: KindCatalog,
				Fields: []FieldDefinition{{ID: "f1", DataType: "blob"}},
			}},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snap.Validate()
			require.Error(t, err)
			assert.IsType(t, ValidationError{}, err)
		})
	}
}

func TestValidateEntities(t *testing.T) {
	ok := []EntityDefinition{invoiceEntity(), customerEntity()}
	require.NoError(t, ValidateEntities(ok))

	dup := []EntityDefinition{invoiceEntity(), invoiceEntity()}
	assert.Error(t, ValidateEntities(dup))

	dangling := []EntityDefinition{{
		ID: uuid.NewString(), Kind: KindCatalog, Codename: "Orphan",
		Fields: []FieldDefinition{{
			ID: uuid.NewString(), Codename: "ref", DataType: TypeReference,
			TargetEntityID: "nope",
		}},
	}}
	assert.Error(t, ValidateEntities(dangling))
}
