package migration

import (
	"context"
	"fmt"

	"github.com/metahubhq/schemacore/diff"
)

// RollbackAnalysis is the result of walking every migration applied after a
// rollback target. CanRollback is true only when no blocker exists;
// warnings describe losses the caller must explicitly accept.
type RollbackAnalysis struct {
	CanRollback     bool
	Blockers        []string
	Warnings        []string
	RollbackChanges []diff.Change

	// Path holds the records to be undone and deleted, newest first.
	Path []Record
}

// InvertDisposition classifies how a single change behaves under rollback.
type InvertDisposition int

const (
	// InvertClean: the inverse restores the prior structure exactly.
	InvertClean InvertDisposition = iota
	// InvertLossy: the inverse is applicable but discards data added
	// since the target, or may fail on rows that violate a re-added
	// constraint. Requires explicit confirmation.
	InvertLossy
	// InvertBlocked: no inverse exists, dropped data cannot be
	// resurrected.
	InvertBlocked
)

// InvertChange computes the compensating change for one applied change.
// The reason string is the warning or blocker text for non-clean results.
func InvertChange(c diff.Change) (diff.Change, InvertDisposition, string) {
	switch c.Type {
	case diff.AddTable:
		return diff.Change{
				Type:        diff.DropTable,
				TableName:   c.TableName,
				Description: fmt.Sprintf("drop table %s added by a later migration", c.TableName),
				Destructive: true,
				EntityID:    c.EntityID,
			}, InvertLossy,
			fmt.Sprintf("rows inserted into %s since the target migration will be lost", c.TableName)

	case diff.AddColumn:
		return diff.Change{
				Type:        diff.DropColumn,
				TableName:   c.TableName,
				ColumnName:  c.ColumnName,
				Description: fmt.Sprintf("drop column %s.%s added by a later migration", c.TableName, c.ColumnName),
				Destructive: true,
				EntityID:    c.EntityID,
				FieldID:     c.FieldID,
			}, InvertLossy,
			fmt.Sprintf("values written to %s.%s since the target migration will be lost", c.TableName, c.ColumnName)

	case diff.AddFK:
		return diff.Change{
			Type:        diff.DropFK,
			TableName:   c.TableName,
			ColumnName:  c.ColumnName,
			Description: fmt.Sprintf("drop foreign key on %s.%s added by a later migration", c.TableName, c.ColumnName),
			EntityID:    c.EntityID,
			FieldID:     c.FieldID,
		}, InvertClean, ""

	case diff.DropFK:
		if c.RefTableName == "" {
			return diff.Change{}, InvertBlocked,
				fmt.Sprintf("foreign key on %s.%s cannot be restored: referenced table unknown", c.TableName, c.ColumnName)
		}
		return diff.Change{
				Type:         diff.AddFK,
				TableName:    c.TableName,
				ColumnName:   c.ColumnName,
				Description:  fmt.Sprintf("restore foreign key on %s.%s", c.TableName, c.ColumnName),
				EntityID:     c.EntityID,
				FieldID:      c.FieldID,
				RefTableName: c.RefTableName,
			}, InvertLossy,
			fmt.Sprintf("re-adding the foreign key on %s.%s fails if existing rows violate it", c.TableName, c.ColumnName)

	case diff.DropTable:
		return diff.Change{}, InvertBlocked,
			fmt.Sprintf("table %s was dropped; its data cannot be resurrected", c.TableName)

	case diff.DropColumn:
		return diff.Change{}, InvertBlocked,
			fmt.Sprintf("column %s.%s was dropped; its data cannot be resurrected", c.TableName, c.ColumnName)

	case diff.AlterColumn:
		if c.ToType != "" && c.ToType != c.FromType {
			return diff.Change{}, InvertBlocked,
				fmt.Sprintf("column %s.%s changed type %s -> %s; the conversion cannot be undone safely",
					c.TableName, c.ColumnName, c.FromType, c.ToType)
		}
		if c.FromRequired != nil && c.ToRequired != nil && *c.FromRequired != *c.ToRequired {
			from, to := *c.ToRequired, *c.FromRequired // swapped for the inverse
			inv := diff.Change{
				Type:         diff.AlterColumn,
				TableName:    c.TableName,
				ColumnName:   c.ColumnName,
				Description:  fmt.Sprintf("restore nullability of %s.%s", c.TableName, c.ColumnName),
				EntityID:     c.EntityID,
				FieldID:      c.FieldID,
				FromRequired: &from,
				ToRequired:   &to,
			}
			if to {
				return inv, InvertLossy,
					fmt.Sprintf("restoring NOT NULL on %s.%s fails if null values were written since the target", c.TableName, c.ColumnName)
			}
			return inv, InvertClean, ""
		}
		return diff.Change{}, InvertBlocked,
			fmt.Sprintf("alteration of %s.%s carries no transition to invert", c.TableName, c.ColumnName)
	}
	return diff.Change{}, InvertBlocked, fmt.Sprintf("unknown change type %q", c.Type)
}

// AnalyzePath computes the rollback analysis for a target record given the
// records applied after it, supplied in chronological order. Pure function;
// the manager wraps it with history lookup.
func AnalyzePath(target Record, newer []Record) *RollbackAnalysis {
	analysis := &RollbackAnalysis{CanRollback: true}

	// Undo newest first; within one migration, undo its changes in
	// reverse application order.
	for i := len(newer) - 1; i >= 0; i-- {
		rec := newer[i]
		analysis.Path = append(analysis.Path, rec)
		for j := len(rec.Meta.Changes) - 1; j >= 0; j-- {
			inv, disposition, reason := InvertChange(rec.Meta.Changes[j])
			switch disposition {
			case InvertBlocked:
				analysis.CanRollback = false
				analysis.Blockers = append(analysis.Blockers,
					fmt.Sprintf("migration %d (%s): %s", rec.ID, rec.Name, reason))
			case InvertLossy:
				analysis.Warnings = append(analysis.Warnings,
					fmt.Sprintf("migration %d (%s): %s", rec.ID, rec.Name, reason))
				analysis.RollbackChanges = append(analysis.RollbackChanges, inv)
			case InvertClean:
				analysis.RollbackChanges = append(analysis.RollbackChanges, inv)
			}
		}
	}

	if target.Meta.SnapshotAfter == nil {
		analysis.CanRollback = false
		analysis.Blockers = append(analysis.Blockers,
			fmt.Sprintf("migration %d (%s) carries no snapshot to restore metadata from", target.ID, target.Name))
	}
	return analysis
}

// AnalyzeRollbackPath loads every migration applied strictly after the
// target and computes whether rolling back to it is possible, which
// compensating changes it takes, and what would be lost.
func (m *Manager) AnalyzeRollbackPath(ctx context.Context, schemaName string, targetID int64) (*RollbackAnalysis, error) {
	target, err := m.Get(ctx, schemaName, targetID)
	if err != nil {
		return nil, err
	}
	newer, err := m.newerThan(ctx, m.db, schemaName, *target)
	if err != nil {
		return nil, err
	}
	return AnalyzePath(*target, newer), nil
}

// NewerThan exposes the chronological post-target history for rollback
// execution, which must re-read it inside its own transaction.
func (m *Manager) NewerThan(ctx context.Context, q DBTX, schemaName string, after Record) ([]Record, error) {
	return m.newerThan(ctx, q, schemaName, after)
}
