package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/graph"
	"github.com/vantera-data/dataverse-sync/pkg/logging"
	"github.com/vantera-data/dataverse-sync/pkg/metadata"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

// maxFilteredPasses bounds the extract-then-sync loop. Each pass can
// surface ids referenced by rows the previous pass wrote.
const maxFilteredPasses = 5

// Config selects what a sync run covers.
type Config struct {
	Entities   []models.EntityConfig
	OptionSets map[string][]string
	Verify     bool
}

// Orchestrator runs a full sync: metadata fetch, schema validation, table
// creation, unfiltered drain, filtered passes, and optional reference
// verification.
type Orchestrator struct {
	client Client
	store  storage.Store
	cfg    Config
	logger *zap.Logger
}

// NewOrchestrator wires a sync run over the given client and store.
func NewOrchestrator(client Client, store storage.Store, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{client: client, store: store, cfg: cfg, logger: logger}
}

// Run executes the sync and reports per-entity outcomes. Entity failures are
// isolated: they mark the result unsuccessful but do not stop other
// entities. Only infrastructure errors (metadata fetch, table creation,
// store access) abort the run. Every log line of one run shares a run_id.
func (o *Orchestrator) Run(ctx context.Context) (*models.SyncResult, error) {
	scoped := *o
	scoped.logger = o.logger.With(zap.String("run_id", uuid.NewString()))
	return scoped.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) (*models.SyncResult, error) {
	result := &models.SyncResult{}

	xmlContent, err := o.client.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch $metadata: %w", err)
	}
	parser := metadata.NewParser(typemap.SQLite, o.logger)
	allSchemas, err := parser.Parse([]byte(xmlContent), o.cfg.OptionSets)
	if err != nil {
		return nil, fmt.Errorf("failed to parse $metadata: %w", err)
	}

	names := make([]string, 0, len(o.cfg.Entities))
	for _, entity := range o.cfg.Entities {
		names = append(names, entity.Name)
	}
	dvSchemas, _ := metadata.Select(allSchemas, names)

	v, err := o.validate(ctx, dvSchemas)
	if err != nil {
		return nil, err
	}
	if !v.passed {
		for _, d := range models.ErrorsOnly(v.diffs) {
			result.ValidationErrors = append(result.ValidationErrors,
				fmt.Sprintf("[%s] %s", d.Entity, d.Description))
		}
		return result, nil
	}
	if len(v.valid) == 0 {
		o.logger.Error("No valid entities to sync")
		return result, nil
	}

	for _, entity := range v.toCreate {
		if err := o.store.CreateEntityTable(ctx, entity.APIName, dvSchemas[entity.Name]); err != nil {
			return nil, fmt.Errorf("failed to create table %s: %w", entity.APIName, err)
		}
		o.logger.Info("Created entity table", zap.String("table", entity.APIName))
	}

	relGraph := graph.Build(allSchemas, o.cfg.Entities)

	var unfiltered, filtered []models.EntityConfig
	for _, entity := range v.valid {
		if entity.Filtered {
			filtered = append(filtered, entity)
		} else {
			unfiltered = append(unfiltered, entity)
		}
	}

	o.syncUnfiltered(ctx, result, unfiltered, dvSchemas)
	if err := o.syncFiltered(ctx, result, filtered, dvSchemas, relGraph); err != nil {
		return nil, err
	}

	if n := len(result.FailedEntities); n > 0 {
		o.logger.Warn("Some entities failed to sync", zap.Int("failed", n))
	}

	if o.cfg.Verify {
		report, err := VerifyReferences(ctx, o.store, relGraph, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to verify references: %w", err)
		}
		result.ReferenceReport = report
	}

	result.Success = len(result.FailedEntities) == 0 && !result.ReferenceReport.HasIssues()
	o.logger.Info("Sync complete",
		zap.Int("total_added", result.TotalAdded),
		zap.Int("total_updated", result.TotalUpdated),
		zap.Bool("success", result.Success))
	return result, nil
}

// syncUnfiltered drains every full-sync entity, isolating per-entity
// failures.
func (o *Orchestrator) syncUnfiltered(ctx context.Context, result *models.SyncResult, entities []models.EntityConfig, dvSchemas map[string]models.TableSchema) {
	es := NewEntitySyncer(o.client, o.store, o.logger)
	for _, entity := range entities {
		schema, ok := dvSchemas[entity.Name]
		if !ok {
			o.logger.Warn("Skipping entity missing from metadata", zap.String("entity", entity.APIName))
			continue
		}
		added, updated, err := es.Sync(ctx, entity, schema)
		if err != nil {
			o.recordFailure(result, entity, err)
			continue
		}
		result.TotalAdded += added
		result.TotalUpdated += updated
	}
}

// syncFiltered alternates ID extraction and sync until no new referenced ids
// appear. Rows written in one pass can reference ids no earlier pass saw, so
// extraction reruns after each round of writes.
func (o *Orchestrator) syncFiltered(ctx context.Context, result *models.SyncResult, entities []models.EntityConfig, dvSchemas map[string]models.TableSchema, relGraph *graph.Graph) error {
	if len(entities) == 0 {
		return nil
	}

	fs := NewFilteredSyncer(o.client, o.store, o.logger)
	apiNames := make([]string, 0, len(entities))
	synced := make(map[string]map[string]struct{}, len(entities))
	for _, entity := range entities {
		apiNames = append(apiNames, entity.APIName)
		synced[entity.APIName] = make(map[string]struct{})
	}

	for pass := 1; pass <= maxFilteredPasses; pass++ {
		extracted, err := ExtractFilteredIDs(ctx, o.store, relGraph, apiNames, o.logger)
		if err != nil {
			return err
		}

		pending := make(map[string]map[string]struct{}, len(entities))
		total := 0
		for name, ids := range extracted {
			p := make(map[string]struct{})
			for id := range ids {
				if _, done := synced[name][id]; !done {
					p[id] = struct{}{}
				}
			}
			pending[name] = p
			total += len(p)
		}
		if total == 0 {
			o.logger.Info("Filtered sync converged", zap.Int("pass", pass))
			break
		}
		o.logger.Info("New referenced ids to sync", zap.Int("pass", pass), zap.Int("ids", total))

		for _, entity := range entities {
			ids := pending[entity.APIName]
			if len(ids) == 0 {
				continue
			}
			schema, ok := dvSchemas[entity.Name]
			if !ok {
				o.logger.Warn("Skipping entity missing from metadata", zap.String("entity", entity.APIName))
				continue
			}
			added, updated, err := fs.Sync(ctx, entity, ids, schema)
			if err != nil {
				o.recordFailure(result, entity, err)
				continue
			}
			result.TotalAdded += added
			result.TotalUpdated += updated
			for id := range ids {
				synced[entity.APIName][id] = struct{}{}
			}
		}
	}

	for _, entity := range entities {
		o.logger.Info("Filtered entity complete",
			zap.String("entity", entity.APIName),
			zap.Int("ids_synced", len(synced[entity.APIName])))
	}
	return nil
}

// recordFailure keeps the full sanitized message in the result; the log
// line carries a truncated preview.
func (o *Orchestrator) recordFailure(result *models.SyncResult, entity models.EntityConfig, err error) {
	result.FailedEntities = append(result.FailedEntities, models.EntityFailure{
		Name:    entity.APIName,
		Message: logging.SanitizeError(err),
	})
	o.logger.Error("Entity sync failed",
		zap.String("entity", entity.APIName),
		zap.Bool("retryable", dataverse.IsRetryable(err)),
		zap.String("error", logging.ErrorPreview(err)))
}
