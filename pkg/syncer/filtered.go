package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/graph"
	"github.com/vantera-data/dataverse-sync/pkg/logging"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

const (
	// maxClosureIterations bounds the ID-extraction fixpoint loop.
	maxClosureIterations = 10

	// filterBatchSize caps how many `key eq '<id>'` clauses go into one
	// $filter, keeping request URLs under server length limits.
	filterBatchSize = 50
)

// ExtractFilteredIDs collects, for each filtered entity, every ID referenced
// from already-synced tables. It re-walks the FK edges until no new IDs
// surface, so references discovered through intermediate tables are picked
// up in later passes.
func ExtractFilteredIDs(ctx context.Context, store storage.Store, g *graph.Graph, entities []string, logger *zap.Logger) (map[string]map[string]struct{}, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	result := make(map[string]map[string]struct{}, len(entities))
	for _, name := range entities {
		result[name] = make(map[string]struct{})
	}

	for iteration := 1; ; iteration++ {
		changed := false
		for _, name := range entities {
			for _, ref := range g.ThatReference(name) {
				values, err := store.DistinctValues(ctx, ref.Table, ref.FKColumn)
				if err != nil {
					return nil, fmt.Errorf("failed to collect ids from %s.%s: %w", ref.Table, ref.FKColumn, err)
				}

				before := len(result[name])
				for v := range values {
					result[name][v] = struct{}{}
				}
				if added := len(result[name]) - before; added > 0 {
					changed = true
					logger.Debug("Extraction pass found referenced ids",
						zap.String("entity", name),
						zap.String("source", ref.Table+"."+ref.FKColumn),
						zap.Int("new_ids", added),
						zap.Int("total", len(result[name])))
				}
			}
		}

		if !changed {
			logger.Debug("ID extraction converged", zap.Int("iterations", iteration))
			break
		}
		if iteration >= maxClosureIterations {
			logger.Warn("ID extraction stopped at iteration cap before converging",
				zap.Int("iterations", iteration))
			break
		}
	}

	return result, nil
}

// FilteredSyncer pulls only the referenced subset of an entity using batched
// OR-filters over the business key.
type FilteredSyncer struct {
	client Client
	store  storage.Store
	logger *zap.Logger
}

// NewFilteredSyncer creates a syncer for filtered entities.
func NewFilteredSyncer(client Client, store storage.Store, logger *zap.Logger) *FilteredSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilteredSyncer{client: client, store: store, logger: logger}
}

// Sync pulls the given ids and commits them. IDs never seen locally are
// fetched unconditionally; ids already present are re-fetched only past the
// incremental watermark. An empty id set is a no-op without a log entry.
func (s *FilteredSyncer) Sync(ctx context.Context, entity models.EntityConfig, ids map[string]struct{}, schema models.TableSchema) (added, updated int, err error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	logID, err := s.store.StartSyncLog(ctx, entity.APIName)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start sync log for %s: %w", entity.APIName, err)
	}

	added, updated, err = s.sync(ctx, entity, ids, schema)
	if err != nil {
		if failErr := s.store.FailSyncLog(ctx, logID, entity.APIName, logging.SanitizeError(err)); failErr != nil {
			s.logger.Warn("Could not record sync failure",
				zap.String("entity", entity.APIName),
				zap.Error(failErr))
		}
		return 0, 0, err
	}

	if err := s.store.CompleteSyncLog(ctx, logID, entity.APIName, added, updated); err != nil {
		return 0, 0, fmt.Errorf("failed to complete sync log for %s: %w", entity.APIName, err)
	}
	return added, updated, nil
}

func (s *FilteredSyncer) sync(ctx context.Context, entity models.EntityConfig, ids map[string]struct{}, schema models.TableSchema) (int, int, error) {
	if schema.PrimaryKey == "" {
		return 0, 0, fmt.Errorf("%w: no primary key found for %s", apperrors.ErrPKResolution, entity.APIName)
	}
	businessKey, ok := schema.EffectiveBusinessKey(entity.Name)
	if !ok {
		return 0, 0, fmt.Errorf("%w: cannot find valid primary key for %s", apperrors.ErrPKResolution, entity.APIName)
	}
	if businessKey != schema.PrimaryKey {
		s.logger.Warn("Declared primary key has no backing column, using fallback",
			zap.String("entity", entity.APIName),
			zap.String("declared", schema.PrimaryKey),
			zap.String("using", businessKey))
	}

	lastTimestamp, err := s.store.LastSyncTimestamp(ctx, entity.APIName)
	if err != nil {
		return 0, 0, err
	}

	newIDs, existingIDs, err := s.partitionIDs(ctx, entity.APIName, businessKey, ids, lastTimestamp)
	if err != nil {
		return 0, 0, err
	}

	// New ids are fetched in full; already-present ids only past the
	// watermark, and only when the entity carries modifiedon at all.
	filters := batchFilters(businessKey, newIDs, "")
	if len(existingIDs) > 0 && lastTimestamp != "" && schema.HasColumn("modifiedon") {
		filters = append(filters, batchFilters(businessKey, existingIDs, lastTimestamp)...)
	}

	records, err := s.fetchBatches(ctx, entity.APIName, businessKey, filters)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		s.logger.Info("No records to sync", zap.String("entity", entity.APIName))
		return 0, 0, nil
	}

	added, updated, err := s.store.UpsertBatch(ctx, entity.APIName, businessKey, schema, records)
	if err != nil {
		return 0, 0, err
	}

	if err := saveWatermark(ctx, s.store, entity.APIName, records); err != nil {
		return 0, 0, err
	}

	s.logger.Info("Filtered entity synced",
		zap.String("entity", entity.APIName),
		zap.Int("ids", len(ids)),
		zap.Int("records", len(records)),
		zap.Int("added", added),
		zap.Int("updated", updated))
	return added, updated, nil
}

// partitionIDs splits the requested ids into never-seen and already-present.
// Without a watermark there is nothing to gate on, so everything counts as
// new and the existence probes are skipped.
func (s *FilteredSyncer) partitionIDs(ctx context.Context, table, businessKey string, ids map[string]struct{}, lastTimestamp string) (newIDs, existingIDs []string, err error) {
	for id := range ids {
		if lastTimestamp == "" {
			newIDs = append(newIDs, id)
			continue
		}
		exists, err := s.store.RecordExists(ctx, table, businessKey, id)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			existingIDs = append(existingIDs, id)
		} else {
			newIDs = append(newIDs, id)
		}
	}
	sort.Strings(newIDs)
	sort.Strings(existingIDs)
	return newIDs, existingIDs, nil
}

// batchFilters renders ids into OR-filter strings of at most filterBatchSize
// clauses each. A non-empty watermark wraps the clause group with the
// incremental gate.
func batchFilters(key string, ids []string, watermark string) []string {
	var filters []string
	for start := 0; start < len(ids); start += filterBatchSize {
		end := min(start+filterBatchSize, len(ids))
		clauses := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			clauses = append(clauses, fmt.Sprintf("%s eq '%s'", key, id))
		}
		filter := strings.Join(clauses, " or ")
		if watermark != "" {
			filter = fmt.Sprintf("(%s) and modifiedon gt %s", filter, watermark)
		}
		filters = append(filters, filter)
	}
	return filters
}

// fetchBatches runs the batch queries concurrently. The client's permit pool
// bounds how many requests are actually in flight.
func (s *FilteredSyncer) fetchBatches(ctx context.Context, apiName, orderBy string, filters []string) ([]map[string]any, error) {
	pages := make([][]map[string]any, len(filters))

	eg, ctx := errgroup.WithContext(ctx)
	for i, filter := range filters {
		eg.Go(func() error {
			records, err := s.client.FetchAllPages(ctx, apiName, dataverse.FetchOptions{
				OrderBy: orderBy,
				Filter:  filter,
			})
			if err != nil {
				return err
			}
			pages[i] = records
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var all []map[string]any
	for _, page := range pages {
		all = append(all, page...)
	}
	return all, nil
}
