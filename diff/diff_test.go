package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metahubhq/schemacore/naming"
	"github.com/metahubhq/schemacore/snapshot"
)

func baseEntities() []snapshot.EntityDefinition {
	return []snapshot.EntityDefinition{
		{
			ID:       "e1",
			Kind:     snapshot.KindCatalog,
			Codename: "Invoice",
			Fields: []snapshot.FieldDefinition{
				{ID: "f1", Codename: "total", DataType: snapshot.TypeNumber, IsRequired: true, SortOrder: 1},
				{ID: "f2", Codename: "currency", DataType: snapshot.TypeString, SortOrder: 2},
			},
		},
		{
			ID:       "e2",
			Kind:     snapshot.KindCatalog,
			Codename: "Customer",
			Fields: []snapshot.FieldDefinition{
				{ID: "f3", Codename: "name", DataType: snapshot.TypeString, IsRequired: true, SortOrder: 1},
			},
		},
	}
}

func baseSnapshot() *snapshot.Snapshot {
	s := snapshot.Generate("tree", baseEntities())
	return &s
}

func TestInitialDiffIsAllAddTable(t *testing.T) {
	d, err := Calculate(nil, baseEntities())
	require.NoError(t, err)

	assert.True(t, d.HasChanges)
	assert.Empty(t, d.Destructive)
	require.Len(t, d.Additive, 2)
	for _, c := range d.Additive {
		assert.Equal(t, AddTable, c.Type)
		assert.False(t, c.Destructive)
	}
	assert.Equal(t, "2 additive, 0 destructive change(s)", d.Summary)
}

func TestNoOpDiff(t *testing.T) {
	d, err := Calculate(baseSnapshot(), baseEntities())
	require.NoError(t, err)

	assert.False(t, d.HasChanges)
	assert.Empty(t, d.Additive)
	assert.Empty(t, d.Destructive)
}

func TestRenameInvariance(t *testing.T) {
	renamed := baseEntities()
	renamed[0].Codename = "Bill"
	renamed[0].Fields[0].Codename = "grand_total"

	d, err := Calculate(baseSnapshot(), renamed)
	require.NoError(t, err)
	assert.False(t, d.HasChanges)
}

func TestAddEntityYieldsSingleAddTable(t *testing.T) {
	grown := append(baseEntities(), snapshot.EntityDefinition{
		ID:       "e3",
		Kind:     snapshot.KindHub,
		Codename: "Region",
		Fields: []snapshot.FieldDefinition{
			{ID: "f4", Codename: "code", DataType: snapshot.TypeString, SortOrder: 1},
			{ID: "f5", Codename: "active", DataType: snapshot.TypeBoolean, SortOrder: 2},
		},
	})

	d, err := Calculate(baseSnapshot(), grown)
	require.NoError(t, err)

	assert.True(t, d.HasChanges)
	assert.Empty(t, d.Destructive)
	require.Len(t, d.Additive, 1)
	assert.Equal(t, AddTable, d.Additive[0].Type)
	assert.Equal(t, naming.TableName("e3", snapshot.KindHub), d.Additive[0].TableName)
}

func TestRemovedFieldIsDestructiveDropColumn(t *testing.T) {
	shrunk := baseEntities()
	shrunk[0].Fields = shrunk[0].Fields[:1] // drop "currency"

	d, err := Calculate(baseSnapshot(), shrunk)
	require.NoError(t, err)

	assert.True(t, d.HasChanges)
	assert.Empty(t, d.Additive)
	require.Len(t, d.Destructive, 1)
	assert.Equal(t, DropColumn, d.Destructive[0].Type)
	assert.True(t, d.Destructive[0].Destructive)
	assert.Equal(t, naming.ColumnName("f2"), d.Destructive[0].ColumnName)
	assert.True(t, d.RequiresConfirmation())
}

func TestRemovedEntityIsDestructiveDropTable(t *testing.T) {
	d, err := Calculate(baseSnapshot(), baseEntities()[:1])
	require.NoError(t, err)

	require.Len(t, d.Destructive, 1)
	assert.Equal(t, DropTable, d.Destructive[0].Type)
	assert.Equal(t, "e2", d.Destructive[0].EntityID)
}

func TestAddedFieldYieldsAddColumn(t *testing.T) {
	grown := baseEntities()
	grown[0].Fields = append(grown[0].Fields, snapshot.FieldDefinition{
		ID: "f9", Codename: "notes", DataType: snapshot.TypeString, SortOrder: 3,
	})

	d, err := Calculate(baseSnapshot(), grown)
	require.NoError(t, err)

	require.Len(t, d.Additive, 1)
	assert.Equal(t, AddColumn, d.Additive[0].Type)
	assert.Empty(t, d.Destructive)
}

func TestReferenceFieldEmitsFKAlongsideColumn(t *testing.T) {
	grown := baseEntities()
	grown[0].Fields = append(grown[0].Fields, snapshot.FieldDefinition{
		ID: "f9", Codename: "customer", DataType: snapshot.TypeReference,
		TargetEntityID: "e2", SortOrder: 3,
	})

	d, err := Calculate(baseSnapshot(), grown)
	require.NoError(t, err)

	require.Len(t, d.Additive, 2)
	assert.Equal(t, AddColumn, d.Additive[0].Type)
	assert.Equal(t, AddFK, d.Additive[1].Type)
	assert.Equal(t, naming.TableName("e2", snapshot.KindCatalog), d.Additive[1].RefTableName)
}

func TestRemovedReferenceFieldDropsFKBeforeColumn(t *testing.T) {
	withRef := baseEntities()
	withRef[0].Fields = append(withRef[0].Fields, snapshot.FieldDefinition{
		ID: "f9", Codename: "customer", DataType: snapshot.TypeReference,
		TargetEntityID: "e2", SortOrder: 3,
	})
	snapWithRef := snapshot.Generate("tree", withRef)

	d, err := Calculate(&snapWithRef, baseEntities())
	require.NoError(t, err)

	require.Len(t, d.Destructive, 2)
	assert.Equal(t, DropFK, d.Destructive[0].Type)
	assert.Equal(t, DropColumn, d.Destructive[1].Type)
}

func TestTypeNarrowingIsDestructive(t *testing.T) {
	altered := baseEntities()
	altered[0].Fields[1].DataType = snapshot.TypeNumber // string -> number

	d, err := Calculate(baseSnapshot(), altered)
	require.NoError(t, err)

	require.Len(t, d.Destructive, 1)
	assert.Equal(t, AlterColumn, d.Destructive[0].Type)
	assert.Equal(t, snapshot.TypeString, d.Destructive[0].FromType)
	assert.Equal(t, snapshot.TypeNumber, d.Destructive[0].ToType)
}

func TestTypeWideningIsAdditive(t *testing.T) {
	altered := baseEntities()
	altered[0].Fields[0].DataType = snapshot.TypeString // number -> string

	d, err := Calculate(baseSnapshot(), altered)
	require.NoError(t, err)

	assert.Empty(t, d.Destructive)
	require.Len(t, d.Additive, 1)
	assert.Equal(t, AlterColumn, d.Additive[0].Type)
}

func TestRequiredFlips(t *testing.T) {
	relaxed := baseEntities()
	relaxed[0].Fields[0].IsRequired = false

	d, err := Calculate(baseSnapshot(), relaxed)
	require.NoError(t, err)
	assert.Empty(t, d.Destructive)
	require.Len(t, d.Additive, 1)

	tightened := baseEntities()
	tightened[0].Fields[1].IsRequired = true

	d, err = Calculate(baseSnapshot(), tightened)
	require.NoError(t, err)
	assert.Empty(t, d.Additive)
	require.Len(t, d.Destructive, 1)
}

func TestKindChangeRebuildsTable(t *testing.T) {
	// The kind discriminates the physical table name, so a kind flip under
	// the same id must move the entity to a new table, not field-diff in
	// place against a table that will not exist.
	moved := baseEntities()
	moved[0].Kind = snapshot.KindHub

	d, err := Calculate(baseSnapshot(), moved)
	require.NoError(t, err)

	assert.True(t, d.HasChanges)
	require.Len(t, d.Destructive, 1)
	assert.Equal(t, DropTable, d.Destructive[0].Type)
	assert.Equal(t, naming.TableName("e1", snapshot.KindCatalog), d.Destructive[0].TableName)
	require.Len(t, d.Additive, 1)
	assert.Equal(t, AddTable, d.Additive[0].Type)
	assert.Equal(t, naming.TableName("e1", snapshot.KindHub), d.Additive[0].TableName)
	assert.True(t, d.RequiresConfirmation())
}

func TestFieldIDSwapIsDropPlusAdd(t *testing.T) {
	// Same codename and shape under a new id: the engine cannot see a
	// rename at the id level, so this is a drop plus an add.
	swapped := baseEntities()
	swapped[0].Fields[1].ID = "f2-new"

	d, err := Calculate(baseSnapshot(), swapped)
	require.NoError(t, err)

	require.Len(t, d.Additive, 1)
	require.Len(t, d.Destructive, 1)
	assert.Equal(t, AddColumn, d.Additive[0].Type)
	assert.Equal(t, DropColumn, d.Destructive[0].Type)
}

func TestIsWidening(t *testing.T) {
	assert.True(t, IsWidening(snapshot.TypeNumber, snapshot.TypeString))
	assert.True(t, IsWidening(snapshot.TypeDate, snapshot.TypeDateTime))
	assert.False(t, IsWidening(snapshot.TypeString, snapshot.TypeNumber))
	assert.False(t, IsWidening(snapshot.TypeString, snapshot.TypeString))
	assert.False(t, IsWidening(snapshot.TypeDateTime, snapshot.TypeDate))
}

func TestInvalidInputRejectedBeforeDiffing(t *testing.T) {
	bad := baseEntities()
	bad[1].ID = bad[0].ID

	_, err := Calculate(baseSnapshot(), bad)
	require.Error(t, err)
	assert.IsType(t, snapshot.ValidationError{}, err)
}
