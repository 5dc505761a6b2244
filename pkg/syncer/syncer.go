// Package syncer drives the Dataverse-to-store synchronization workflow:
// schema validation against $metadata, entity table creation, full and
// incremental pulls, filtered transitive-closure pulls, and reference
// verification over the result.
package syncer

import (
	"context"

	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

// Client is the slice of the Dataverse API the syncer consumes.
type Client interface {
	// Metadata fetches the CSDL $metadata document.
	Metadata(ctx context.Context) (string, error)

	// FetchAllPages retrieves every record of a collection, following
	// pagination links.
	FetchAllPages(ctx context.Context, entity string, opts dataverse.FetchOptions) ([]map[string]any, error)
}

var _ Client = (*dataverse.Client)(nil)

// maxModifiedOn returns the greatest modifiedon value across the records, or
// "" when none carries one. ISO-8601 timestamps order correctly as strings.
func maxModifiedOn(records []map[string]any) string {
	var maxTS string
	for _, r := range records {
		if ts := dataverse.RecordString(r, "modifiedon"); ts > maxTS {
			maxTS = ts
		}
	}
	return maxTS
}

// saveWatermark records the incremental watermark for an entity after a
// successful upsert. Entities whose records carry no modifiedon keep their
// previous watermark and are re-pulled in full next run.
func saveWatermark(ctx context.Context, store storage.Store, entity string, records []map[string]any) error {
	ts := maxModifiedOn(records)
	if ts == "" {
		return nil
	}
	return store.SetSyncWatermark(ctx, entity, ts, len(records))
}
