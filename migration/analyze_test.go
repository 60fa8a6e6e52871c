package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/snapshot"
)

func boolPtr(b bool) *bool { return &b }

func targetRecord() Record {
	snap := snapshot.Generate("tree", []snapshot.EntityDefinition{{
		ID: "e1", Kind: snapshot.KindCatalog, Codename: "Invoice",
		Fields: []snapshot.FieldDefinition{
			{ID: "f1", Codename: "total", DataType: snapshot.TypeNumber, IsRequired: true, SortOrder: 1},
		},
	}})
	return Record{
		ID:        1,
		Name:      NameInitialSchema,
		AppliedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Meta: Meta{
			Summary:       "1 additive, 0 destructive change(s)",
			Changes:       []diff.Change{{Type: diff.AddTable, TableName: "cat_e1", EntityID: "e1"}},
			SnapshotAfter: &snap,
		},
	}
}

func TestInvertAddColumn(t *testing.T) {
	inv, disposition, reason := InvertChange(diff.Change{
		Type: diff.AddColumn, TableName: "cat_e1", ColumnName: "f_f2", EntityID: "e1", FieldID: "f2",
	})

	assert.Equal(t, InvertLossy, disposition)
	assert.Equal(t, diff.DropColumn, inv.Type)
	assert.Equal(t, "cat_e1", inv.TableName)
	assert.Equal(t, "f_f2", inv.ColumnName)
	assert.True(t, inv.Destructive)
	assert.Contains(t, reason, "will be lost")
}

func TestInvertAddFKIsClean(t *testing.T) {
	inv, disposition, reason := InvertChange(diff.Change{
		Type: diff.AddFK, TableName: "cat_e1", ColumnName: "f_f2", RefTableName: "cat_e2",
	})

	assert.Equal(t, InvertClean, disposition)
	assert.Equal(t, diff.DropFK, inv.Type)
	assert.Empty(t, reason)
}

func TestInvertDropFKRestoresConstraintWithWarning(t *testing.T) {
	inv, disposition, _ := InvertChange(diff.Change{
		Type: diff.DropFK, TableName: "cat_e1", ColumnName: "f_f2", RefTableName: "cat_e2",
	})

	assert.Equal(t, InvertLossy, disposition)
	assert.Equal(t, diff.AddFK, inv.Type)
	assert.Equal(t, "cat_e2", inv.RefTableName)
}

func TestInvertDropsAreBlocked(t *testing.T) {
	_, disposition, reason := InvertChange(diff.Change{Type: diff.DropTable, TableName: "cat_e1"})
	assert.Equal(t, InvertBlocked, disposition)
	assert.Contains(t, reason, "cannot be resurrected")

	_, disposition, _ = InvertChange(diff.Change{Type: diff.DropColumn, TableName: "cat_e1", ColumnName: "f_f2"})
	assert.Equal(t, InvertBlocked, disposition)
}

func TestInvertTypeChangeIsBlocked(t *testing.T) {
	_, disposition, _ := InvertChange(diff.Change{
		Type: diff.AlterColumn, TableName: "cat_e1", ColumnName: "f_f1",
		FromType: snapshot.TypeNumber, ToType: snapshot.TypeString,
	})
	assert.Equal(t, InvertBlocked, disposition)
}

func TestInvertRequiredFlip(t *testing.T) {
	// required -> optional inverts to restoring NOT NULL, lossy.
	inv, disposition, _ := InvertChange(diff.Change{
		Type: diff.AlterColumn, TableName: "cat_e1", ColumnName: "f_f1",
		FromType: snapshot.TypeNumber, ToType: snapshot.TypeNumber,
		FromRequired: boolPtr(true), ToRequired: boolPtr(false),
	})
	assert.Equal(t, InvertLossy, disposition)
	require.NotNil(t, inv.ToRequired)
	assert.True(t, *inv.ToRequired)

	// optional -> required inverts cleanly to dropping NOT NULL.
	inv, disposition, _ = InvertChange(diff.Change{
		Type: diff.AlterColumn, TableName: "cat_e1", ColumnName: "f_f1",
		FromRequired: boolPtr(false), ToRequired: boolPtr(true),
	})
	assert.Equal(t, InvertClean, disposition)
	require.NotNil(t, inv.ToRequired)
	assert.False(t, *inv.ToRequired)
}

func TestAnalyzePathAdditiveOnly(t *testing.T) {
	target := targetRecord()
	m2 := Record{
		ID:        2,
		Name:      NameSchemaSync,
		AppliedAt: target.AppliedAt.Add(time.Hour),
		Meta: Meta{
			Changes: []diff.Change{{
				Type: diff.AddColumn, TableName: "cat_e1", ColumnName: "f_f2", EntityID: "e1", FieldID: "f2",
			}},
		},
	}

	analysis := AnalyzePath(target, []Record{m2})

	assert.True(t, analysis.CanRollback)
	assert.Empty(t, analysis.Blockers)
	require.Len(t, analysis.RollbackChanges, 1)
	assert.Equal(t, diff.DropColumn, analysis.RollbackChanges[0].Type)
	require.Len(t, analysis.Warnings, 1)
	require.Len(t, analysis.Path, 1)
	assert.Equal(t, int64(2), analysis.Path[0].ID)
}

func TestAnalyzePathBlockedByDropColumn(t *testing.T) {
	target := targetRecord()
	m2 := Record{
		ID:        2,
		Name:      NameSchemaSync,
		AppliedAt: target.AppliedAt.Add(time.Hour),
		Meta: Meta{
			HasDestructive: true,
			Changes: []diff.Change{{
				Type: diff.DropColumn, TableName: "cat_e1", ColumnName: "f_f2", Destructive: true,
			}},
		},
	}

	analysis := AnalyzePath(target, []Record{m2})

	assert.False(t, analysis.CanRollback)
	require.Len(t, analysis.Blockers, 1)
	assert.Contains(t, analysis.Blockers[0], "migration 2")
}

func TestAnalyzePathUndoesNewestFirst(t *testing.T) {
	target := targetRecord()
	m2 := Record{
		ID: 2, Name: NameSchemaSync, AppliedAt: target.AppliedAt.Add(time.Hour),
		Meta: Meta{Changes: []diff.Change{{
			Type: diff.AddColumn, TableName: "cat_e1", ColumnName: "f_a",
		}}},
	}
	m3 := Record{
		ID: 3, Name: NameSchemaSync, AppliedAt: target.AppliedAt.Add(2 * time.Hour),
		Meta: Meta{Changes: []diff.Change{{
			Type: diff.AddColumn, TableName: "cat_e1", ColumnName: "f_b",
		}}},
	}

	analysis := AnalyzePath(target, []Record{m2, m3})

	require.Len(t, analysis.RollbackChanges, 2)
	assert.Equal(t, "f_b", analysis.RollbackChanges[0].ColumnName)
	assert.Equal(t, "f_a", analysis.RollbackChanges[1].ColumnName)
	require.Len(t, analysis.Path, 2)
	assert.Equal(t, int64(3), analysis.Path[0].ID)
}

func TestAnalyzePathRequiresTargetSnapshot(t *testing.T) {
	target := targetRecord()
	target.Meta.SnapshotAfter = nil

	analysis := AnalyzePath(target, nil)
	assert.False(t, analysis.CanRollback)
	require.Len(t, analysis.Blockers, 1)
}
