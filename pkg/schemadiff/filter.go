package schemadiff

import (
	"github.com/vantera-data/dataverse-sync/pkg/models"
)

// Columns the sync engine adds to every entity table. They never appear in
// Dataverse metadata, so they are stripped from observed schemas before
// comparison.
var systemColumns = map[string]struct{}{
	"row_id":        {},
	"json_response": {},
	"sync_time":     {},
	"valid_from":    {},
	"valid_to":      {},
}

// IsSystemColumn reports whether name is one of the engine-managed columns.
func IsSystemColumn(name string) bool {
	_, ok := systemColumns[name]
	return ok
}

// StripSystemColumns removes engine-managed columns from an observed schema.
// When the observed primary key is the row_id surrogate, the business key is
// substituted: the expected Dataverse key if it survives filtering, otherwise
// the <singular>id convention, otherwise empty.
func StripSystemColumns(schema models.TableSchema, expectedPK, singularName string) models.TableSchema {
	filtered := make([]models.ColumnSpec, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		if IsSystemColumn(col.Name) {
			continue
		}
		filtered = append(filtered, col)
	}

	pk := schema.PrimaryKey
	if IsSystemColumn(schema.PrimaryKey) {
		pk = ""
		if expectedPK != "" && hasColumn(filtered, expectedPK) {
			pk = expectedPK
		} else if singularName != "" {
			// Metadata sometimes declares a key that never appears as a
			// column (systemuser declares ownerid but only systemuserid
			// exists). Fall back to the <singular>id convention.
			if idCol := singularName + "id"; hasColumn(filtered, idCol) {
				pk = idCol
			}
		}
	}

	return models.TableSchema{
		EntityName:  schema.EntityName,
		Columns:     filtered,
		PrimaryKey:  pk,
		ForeignKeys: schema.ForeignKeys,
	}
}

// AdjustPhantomPK rewrites the Dataverse-side primary key when the declared
// key has no backing column and the observed schema settled on <singular>id.
// Without this the comparison would flag a pk_mismatch for a key that cannot
// exist in the database at all.
func AdjustPhantomPK(dvSchema, dbFiltered models.TableSchema, singularName string) models.TableSchema {
	if dvSchema.PrimaryKey == "" || dvSchema.HasColumn(dvSchema.PrimaryKey) {
		return dvSchema
	}
	idCol := singularName + "id"
	if dbFiltered.PrimaryKey != idCol {
		return dvSchema
	}
	adjusted := dvSchema
	adjusted.PrimaryKey = idCol
	return adjusted
}

func hasColumn(cols []models.ColumnSpec, name string) bool {
	for _, col := range cols {
		if col.Name == name {
			return true
		}
	}
	return false
}
