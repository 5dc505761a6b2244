package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/schemadiff"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

// validation is the outcome of the pre-sync schema gate.
type validation struct {
	valid    []models.EntityConfig
	toCreate []models.EntityConfig
	diffs    []models.SchemaDifference
	passed   bool
}

// validate checks every configured entity against metadata and the store
// before anything is written. Entities absent from metadata are dropped with
// a warning; entities without a local table pass and are queued for
// creation; the rest are compared column by column after stripping the
// store's own bookkeeping columns.
func (o *Orchestrator) validate(ctx context.Context, dvSchemas map[string]models.TableSchema) (*validation, error) {
	tables := make([]string, 0, len(o.cfg.Entities))
	for _, entity := range o.cfg.Entities {
		tables = append(tables, entity.APIName)
	}
	dbSchemas, err := o.store.Schemas(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to read database schemas: %w", err)
	}

	comparer := schemadiff.NewComparer(typemap.SQLite)
	v := &validation{}

	for _, entity := range o.cfg.Entities {
		dvSchema, inMetadata := dvSchemas[entity.Name]
		if !inMetadata {
			v.diffs = append(v.diffs, models.SchemaDifference{
				Entity:      entity.APIName,
				IssueType:   models.DiffEntityNotInMetadata,
				Severity:    models.SeverityWarning,
				Description: fmt.Sprintf("Entity '%s' in config but not in $metadata - skipping", entity.Name),
			})
			continue
		}

		dbSchema, hasTable := dbSchemas[entity.APIName]
		if !hasTable {
			v.diffs = append(v.diffs, models.SchemaDifference{
				Entity:      entity.APIName,
				IssueType:   models.DiffNewEntity,
				Severity:    models.SeverityInfo,
				Description: "New entity - table will be created",
			})
			v.valid = append(v.valid, entity)
			v.toCreate = append(v.toCreate, entity)
			continue
		}

		filtered := schemadiff.StripSystemColumns(dbSchema, dvSchema.PrimaryKey, entity.Name)
		adjusted := schemadiff.AdjustPhantomPK(dvSchema, filtered, entity.Name)
		v.diffs = append(v.diffs, comparer.CompareAll(
			map[string]models.TableSchema{entity.Name: adjusted},
			map[string]models.TableSchema{entity.Name: filtered},
		)...)
		v.valid = append(v.valid, entity)
	}

	v.passed = len(models.ErrorsOnly(v.diffs)) == 0
	o.logValidation(v)
	return v, nil
}

func (o *Orchestrator) logValidation(v *validation) {
	counts := models.CountBySeverity(v.diffs)
	for _, d := range v.diffs {
		fields := []zap.Field{
			zap.String("entity", d.Entity),
			zap.String("issue", d.IssueType),
		}
		switch d.Severity {
		case models.SeverityError:
			o.logger.Error(d.Description, fields...)
		case models.SeverityWarning:
			o.logger.Warn(d.Description, fields...)
		default:
			o.logger.Info(d.Description, fields...)
		}
	}

	if !v.passed {
		o.logger.Error("Sync aborted by schema validation",
			zap.Int("errors", counts[models.SeverityError]),
			zap.Int("warnings", counts[models.SeverityWarning]))
		return
	}
	o.logger.Info("Schema validation passed",
		zap.Int("valid_entities", len(v.valid)),
		zap.Int("warnings", counts[models.SeverityWarning]))
}
