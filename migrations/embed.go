// Package migrations embeds the SQL migrations for the sync metadata tables
// (_sync_state, _sync_log). Entity tables are created dynamically from
// Dataverse metadata and are not managed here.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
