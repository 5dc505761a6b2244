package syncer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/logging"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

// EntitySyncer pulls one unfiltered entity and commits the records as SCD2
// versions. The first pull fetches everything; later pulls are gated on the
// stored modifiedon watermark.
type EntitySyncer struct {
	client Client
	store  storage.Store
	logger *zap.Logger
}

// NewEntitySyncer creates a syncer for unfiltered entities.
func NewEntitySyncer(client Client, store storage.Store, logger *zap.Logger) *EntitySyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitySyncer{client: client, store: store, logger: logger}
}

// Sync runs one pull for the entity, wrapped in a _sync_log entry. The log
// row is completed with the upsert counts on success and marked failed with
// the error message otherwise.
func (s *EntitySyncer) Sync(ctx context.Context, entity models.EntityConfig, schema models.TableSchema) (added, updated int, err error) {
	logID, err := s.store.StartSyncLog(ctx, entity.APIName)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start sync log for %s: %w", entity.APIName, err)
	}

	added, updated, err = s.sync(ctx, entity, schema)
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

func (s *EntitySyncer) sync(ctx context.Context, entity models.EntityConfig, schema models.TableSchema) (int, int, error) {
	lastTimestamp, err := s.store.LastSyncTimestamp(ctx, entity.APIName)
	if err != nil {
		return 0, 0, err
	}

	var filter string
	if lastTimestamp != "" && schema.HasColumn("modifiedon") {
		filter = "modifiedon gt " + lastTimestamp
	}

	records, err := s.client.FetchAllPages(ctx, entity.APIName, dataverse.FetchOptions{
		OrderBy: orderColumn(schema),
		Filter:  filter,
	})
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		s.logger.Info("No records to sync", zap.String("entity", entity.APIName))
		return 0, 0, nil
	}

	businessKey, err := s.effectiveBusinessKey(entity, schema, records)
	if err != nil {
		return 0, 0, err
	}

	added, updated, err := s.store.UpsertBatch(ctx, entity.APIName, businessKey, schema, records)
	if err != nil {
		return 0, 0, err
	}

	if err := saveWatermark(ctx, s.store, entity.APIName, records); err != nil {
		return 0, 0, err
	}

	s.logger.Info("Entity synced",
		zap.String("entity", entity.APIName),
		zap.Int("records", len(records)),
		zap.Int("added", added),
		zap.Int("updated", updated))
	return added, updated, nil
}

// effectiveBusinessKey resolves the column used for SCD2 upserts. Metadata
// sometimes declares a key that never appears as a column (systemuser
// declares ownerid but the payload carries systemuserid), so absent keys
// fall back to `<singular>id` as a column, then `<singular>id` as a key of
// the first fetched record, then any non-lookup `*id` column.
func (s *EntitySyncer) effectiveBusinessKey(entity models.EntityConfig, schema models.TableSchema, records []map[string]any) (string, error) {
	if schema.PrimaryKey != "" && schema.HasColumn(schema.PrimaryKey) {
		return schema.PrimaryKey, nil
	}

	idCol := entity.Name + "id"
	if col, ok := schema.Column(idCol); ok {
		s.logKeyFallback(entity.APIName, schema.PrimaryKey, col.Name)
		return col.Name, nil
	}
	if len(records) > 0 {
		if _, ok := records[0][idCol]; ok {
			s.logKeyFallback(entity.APIName, schema.PrimaryKey, idCol)
			return idCol, nil
		}
	}
	for _, col := range schema.Columns {
		if strings.HasSuffix(strings.ToLower(col.Name), "id") && !strings.HasPrefix(col.Name, "_") {
			s.logKeyFallback(entity.APIName, schema.PrimaryKey, col.Name)
			return col.Name, nil
		}
	}
	return "", fmt.Errorf("%w: cannot find valid primary key for %s", apperrors.ErrPKResolution, entity.APIName)
}

func (s *EntitySyncer) logKeyFallback(entity, declared, using string) {
	s.logger.Warn("Declared primary key has no backing column, using fallback",
		zap.String("entity", entity),
		zap.String("declared", declared),
		zap.String("using", using))
}

// orderColumn picks a stable $orderby for paginated pulls: the declared key
// when present, otherwise a timestamp column, otherwise none.
func orderColumn(schema models.TableSchema) string {
	switch {
	case schema.PrimaryKey != "":
		return schema.PrimaryKey
	case schema.HasColumn("createdon"):
		return "createdon"
	case schema.HasColumn("modifiedon"):
		return "modifiedon"
	default:
		return ""
	}
}
