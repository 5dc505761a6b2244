// Package schemadiff compares projected Dataverse schemas against observed
// database schemas and renders the results as validation reports.
package schemadiff

import (
	"fmt"
	"strings"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

// Comparer detects differences between the schema Dataverse metadata
// projects and the schema actually present in the target database.
type Comparer struct {
	target typemap.Target
}

// NewComparer returns a Comparer that normalizes types for the given target.
func NewComparer(target typemap.Target) *Comparer {
	return &Comparer{target: target}
}

// CompareAll compares every entity in both schema maps. Both maps must be
// keyed consistently; entities present on only one side produce table-level
// differences, entities present on both are compared column by column.
func (c *Comparer) CompareAll(dvSchemas, dbSchemas map[string]models.TableSchema) []models.SchemaDifference {
	var diffs []models.SchemaDifference

	diffs = append(diffs, missingTables(dvSchemas, dbSchemas)...)
	diffs = append(diffs, extraTables(dvSchemas, dbSchemas)...)

	for name, dvSchema := range dvSchemas {
		dbSchema, ok := dbSchemas[name]
		if !ok {
			continue
		}
		diffs = append(diffs, c.compareColumns(name, dvSchema, dbSchema)...)
		diffs = append(diffs, comparePrimaryKeys(name, dvSchema, dbSchema)...)
		diffs = append(diffs, compareForeignKeys(name, dvSchema, dbSchema)...)
	}

	return diffs
}

func missingTables(dvSchemas, dbSchemas map[string]models.TableSchema) []models.SchemaDifference {
	var diffs []models.SchemaDifference
	for name := range dvSchemas {
		if _, ok := dbSchemas[name]; !ok {
			diffs = append(diffs, models.SchemaDifference{
				Entity:      name,
				IssueType:   models.DiffMissingTable,
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Table '%s' exists in Dataverse but not in database", name),
				Details:     map[string]any{"entity_name": name},
			})
		}
	}
	return diffs
}

func extraTables(dvSchemas, dbSchemas map[string]models.TableSchema) []models.SchemaDifference {
	var diffs []models.SchemaDifference
	for name := range dbSchemas {
		if _, ok := dvSchemas[name]; !ok {
			diffs = append(diffs, models.SchemaDifference{
				Entity:      name,
				IssueType:   models.DiffExtraTable,
				Severity:    models.SeverityWarning,
				Description: fmt.Sprintf("Table '%s' exists in database but not in Dataverse schema", name),
				Details:     map[string]any{"entity_name": name},
			})
		}
	}
	return diffs
}

func (c *Comparer) compareColumns(entity string, dvSchema, dbSchema models.TableSchema) []models.SchemaDifference {
	var diffs []models.SchemaDifference

	dvCols := columnMap(dvSchema.Columns)
	dbCols := columnMap(dbSchema.Columns)

	for key, dvCol := range dvCols {
		if _, ok := dbCols[key]; ok {
			continue
		}
		// New Dataverse columns are not breaking: values land in
		// json_response until the table is recreated.
		diffs = append(diffs, models.SchemaDifference{
			Entity:      entity,
			IssueType:   models.DiffMissingColumn,
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Column '%s' missing in database", dvCol.Name),
			Details: map[string]any{
				"column_name":   dvCol.Name,
				"expected_type": dvCol.StorageType,
				"edm_type":      dvCol.EdmType,
			},
		})
	}

	for key, dbCol := range dbCols {
		if _, ok := dvCols[key]; ok {
			continue
		}
		diffs = append(diffs, models.SchemaDifference{
			Entity:      entity,
			IssueType:   models.DiffExtraColumn,
			Severity:    models.SeverityWarning,
			Description: fmt.Sprintf("Column '%s' exists in database but not in Dataverse", dbCol.Name),
			Details: map[string]any{
				"column_name": dbCol.Name,
				"actual_type": dbCol.StorageType,
			},
		})
	}

	for key, dvCol := range dvCols {
		dbCol, ok := dbCols[key]
		if !ok {
			continue
		}

		dvNorm := typemap.Normalize(dvCol.StorageType, c.target)
		dbNorm := typemap.Normalize(dbCol.StorageType, c.target)
		if dvNorm != dbNorm {
			diffs = append(diffs, models.SchemaDifference{
				Entity:      entity,
				IssueType:   models.DiffTypeMismatch,
				Severity:    models.SeverityError,
				Description: fmt.Sprintf("Column '%s' type mismatch", dvCol.Name),
				Details: map[string]any{
					"column_name":         dvCol.Name,
					"expected_type":       dvCol.StorageType,
					"actual_type":         dbCol.StorageType,
					"expected_normalized": dvNorm,
					"actual_normalized":   dbNorm,
					"edm_type":            dvCol.EdmType,
				},
			})
		}

		if dvCol.Nullable != dbCol.Nullable {
			diffs = append(diffs, models.SchemaDifference{
				Entity:      entity,
				IssueType:   models.DiffNullableMismatch,
				Severity:    models.SeverityWarning,
				Description: fmt.Sprintf("Column '%s' nullable mismatch", dvCol.Name),
				Details: map[string]any{
					"column_name":       dvCol.Name,
					"expected_nullable": dvCol.Nullable,
					"actual_nullable":   dbCol.Nullable,
				},
			})
		}
	}

	return diffs
}

func comparePrimaryKeys(entity string, dvSchema, dbSchema models.TableSchema) []models.SchemaDifference {
	if strings.EqualFold(dvSchema.PrimaryKey, dbSchema.PrimaryKey) {
		return nil
	}
	return []models.SchemaDifference{{
		Entity:      entity,
		IssueType:   models.DiffPKMismatch,
		Severity:    models.SeverityError,
		Description: "Primary key mismatch",
		Details: map[string]any{
			"expected_pk": dvSchema.PrimaryKey,
			"actual_pk":   dbSchema.PrimaryKey,
		},
	}}
}

func compareForeignKeys(entity string, dvSchema, dbSchema models.TableSchema) []models.SchemaDifference {
	var diffs []models.SchemaDifference

	dvFKs := fkMap(dvSchema.ForeignKeys)
	dbFKs := fkMap(dbSchema.ForeignKeys)

	for key, dvFK := range dvFKs {
		dbFK, ok := dbFKs[key]
		if !ok {
			// Entity tables carry no FK constraints; relationships
			// stay queryable through joins.
			diffs = append(diffs, models.SchemaDifference{
				Entity:    entity,
				IssueType: models.DiffFKMissing,
				Severity:  models.SeverityInfo,
				Description: fmt.Sprintf(
					"Column '%s' has no FK constraint (use JOIN to query relationship)", dvFK.Column),
				Details: map[string]any{
					"column":              dvFK.Column,
					"expected_references": dvFK.ReferencedTable + "." + dvFK.ReferencedColumn,
				},
			})
			continue
		}
		if !strings.EqualFold(dvFK.ReferencedTable, dbFK.ReferencedTable) ||
			!strings.EqualFold(dvFK.ReferencedColumn, dbFK.ReferencedColumn) {
			diffs = append(diffs, models.SchemaDifference{
				Entity:    entity,
				IssueType: models.DiffFKMismatch,
				Severity:  models.SeverityWarning,
				Description: fmt.Sprintf(
					"Foreign key on column '%s' references wrong table/column", dvFK.Column),
				Details: map[string]any{
					"column":              dvFK.Column,
					"expected_references": dvFK.ReferencedTable + "." + dvFK.ReferencedColumn,
					"actual_references":   dbFK.ReferencedTable + "." + dbFK.ReferencedColumn,
				},
			})
		}
	}

	for key, dbFK := range dbFKs {
		if _, ok := dvFKs[key]; ok {
			continue
		}
		diffs = append(diffs, models.SchemaDifference{
			Entity:      entity,
			IssueType:   models.DiffFKExtra,
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Extra foreign key on column '%s'", dbFK.Column),
			Details: map[string]any{
				"column":            dbFK.Column,
				"actual_references": dbFK.ReferencedTable + "." + dbFK.ReferencedColumn,
			},
		})
	}

	return diffs
}

func columnMap(cols []models.ColumnSpec) map[string]models.ColumnSpec {
	m := make(map[string]models.ColumnSpec, len(cols))
	for _, col := range cols {
		m[strings.ToLower(col.Name)] = col
	}
	return m
}

func fkMap(fks []models.ForeignKeySpec) map[string]models.ForeignKeySpec {
	m := make(map[string]models.ForeignKeySpec, len(fks))
	for _, fk := range fks {
		m[strings.ToLower(fk.Column)] = fk
	}
	return m
}
