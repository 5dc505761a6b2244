// Package storage defines the contracts between the sync engine and its
// local stores. The embedded SQLite store implements the full Store; the
// PostgreSQL adapter implements SchemaReader for validation against an
// externally loaded database.
package storage

import (
	"context"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

// Store is the full embedded store the sync engine writes to.
// Implementations own their connection and must be closed when done.
type Store interface {
	SchemaReader

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// CreateEntityTable creates the SCD2 entity table and its indexes from
	// a metadata schema. Existing tables are left untouched.
	CreateEntityTable(ctx context.Context, table string, schema models.TableSchema) error

	// UpsertBatch applies SCD2 upserts for a page of API records, including
	// option-set lookup maintenance and junction snapshots. Returns how many
	// records were new entities and how many produced new versions of
	// existing entities.
	UpsertBatch(ctx context.Context, table, businessKey string, schema models.TableSchema, records []map[string]any) (added, updated int, err error)

	// DistinctValues returns the distinct non-null values of a column, or an
	// empty set when the table does not exist.
	DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error)

	// RecordExists reports whether any version of the given business key
	// value is present.
	RecordExists(ctx context.Context, table, keyColumn, value string) (bool, error)

	// DanglingReferences scans one FK edge for values that resolve to no row
	// in the referenced table. Returns the number of dangling rows, up to
	// ten sample values, and the total count of rows with a non-null FK.
	DanglingReferences(ctx context.Context, table, fkColumn, refTable, refColumn string) (dangling int64, samples []string, total int64, err error)

	// SyncState returns the persisted state row for an entity, or nil when
	// the entity has never been synced.
	SyncState(ctx context.Context, entity string) (*models.SyncState, error)

	// LastSyncTimestamp returns the incremental watermark for an entity, or
	// "" when none is recorded.
	LastSyncTimestamp(ctx context.Context, entity string) (string, error)

	// SetSyncWatermark records a completed sync: watermark timestamp and
	// record count.
	SetSyncWatermark(ctx context.Context, entity, timestamp string, count int) error

	// StartSyncLog marks the entity in_progress and opens a log row,
	// returning its id.
	StartSyncLog(ctx context.Context, entity string) (int64, error)

	// CompleteSyncLog closes a log row successfully.
	CompleteSyncLog(ctx context.Context, logID int64, entity string, added, updated int) error

	// FailSyncLog closes a log row with an error message.
	FailSyncLog(ctx context.Context, logID int64, entity string, errMsg string) error

	// OptionSetTables lists the _optionset_* lookup tables, sorted by name.
	OptionSetTables(ctx context.Context) ([]string, error)

	// EntityTables lists non-system tables (no leading underscore, not
	// sqlite_* or schema_migrations).
	EntityTables(ctx context.Context) ([]string, error)

	// ColumnTypes returns the declared storage type per column of a table.
	ColumnTypes(ctx context.Context, table string) (map[string]string, error)

	Close() error
}

// SchemaReader reads the observed schema of a store for validation against
// Dataverse metadata.
type SchemaReader interface {
	// Schemas returns the observed schema per table. Tables that do not
	// exist are absent from the result.
	Schemas(ctx context.Context, tables []string) (map[string]models.TableSchema, error)
}
