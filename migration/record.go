// Package migration persists and analyzes the migration history of one
// physical schema. Every applied generate, sync or rollback leaves exactly
// one record in the schema-local migrations table; rollback deletes the
// records it supersedes and nothing else ever removes them.
package migration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/metahubhq/schemacore/diff"
	"github.com/metahubhq/schemacore/snapshot"
)

// TableName is the schema-local migration history table.
const TableName = "_app_migrations"

// Well-known migration names.
const (
	NameInitialSchema = "initial_schema"
	NameSchemaSync    = "schema_sync"
	NameRollback      = "rollback"
)

// Meta is the closed structure stored in each record's meta column.
// Optional fields stay explicit rather than living in an open map, so the
// rollback and analysis logic can be exhaustive over them.
type Meta struct {
	HasDestructive bool          `json:"hasDestructive"`
	Summary        string        `json:"summary"`
	Changes        []diff.Change `json:"changes"`

	SnapshotBefore *snapshot.Snapshot `json:"snapshotBefore,omitempty"`
	SnapshotAfter  *snapshot.Snapshot `json:"snapshotAfter,omitempty"`

	// SeedWarnings is appended after the fact by the seeding path; it is
	// the only permitted post-hoc update to a record.
	SeedWarnings []string `json:"seedWarnings,omitempty"`

	PublicationSnapshotHash string `json:"publicationSnapshotHash,omitempty"`
	PublicationID           string `json:"publicationId,omitempty"`
	PublicationVersionID    string `json:"publicationVersionId,omitempty"`
}

// Record is one durable migration history entry. Records of one schema are
// totally ordered by AppliedAt with ID as tie-break.
type Record struct {
	ID        int64
	Name      string
	AppliedAt time.Time
	Meta      Meta

	// PublicationSnapshot is an opaque caller-supplied document stored
	// alongside the record, if any.
	PublicationSnapshot json.RawMessage
}

// ErrNotFound reports a missing migration record.
type ErrNotFound struct {
	Schema string
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("migration %d not found in schema %s", e.ID, e.Schema)
}
