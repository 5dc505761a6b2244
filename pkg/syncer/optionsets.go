package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

// GenerateOptionSetConfig reconstructs the option-set field config from an
// existing database: every _optionset_* lookup table names a field, and each
// entity table carrying that field as an INTEGER column claims it. Keys are
// singular entity names so the output can feed the metadata parser directly.
func GenerateOptionSetConfig(ctx context.Context, store storage.Store, entities []models.EntityConfig, logger *zap.Logger) (map[string][]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lookups, err := store.OptionSetTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list option set tables: %w", err)
	}
	if len(lookups) == 0 {
		logger.Warn("No option set tables found in database")
		return map[string][]string{}, nil
	}

	tables, err := store.EntityTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity tables: %w", err)
	}

	singularByTable := make(map[string]string, len(entities))
	for _, entity := range entities {
		singularByTable[entity.APIName] = entity.Name
	}

	columnTypes := make(map[string]map[string]string, len(tables))
	for _, table := range tables {
		types, err := store.ColumnTypes(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		columnTypes[table] = types
	}

	result := make(map[string][]string)
	for _, lookup := range lookups {
		field := strings.TrimPrefix(lookup, storage.OptionSetTablePrefix)
		for _, table := range tables {
			colType, ok := columnTypes[table][field]
			if !ok || !strings.EqualFold(colType, "INTEGER") {
				continue
			}
			singular, ok := singularByTable[table]
			if !ok {
				// Table absent from the entities config; fall back to the
				// plural-minus-s convention used for API names.
				singular = strings.TrimSuffix(table, "s")
			}
			result[singular] = append(result[singular], field)
			logger.Debug("Matched option set field",
				zap.String("table", table),
				zap.String("field", field))
		}
	}

	for _, fields := range result {
		sort.Strings(fields)
	}
	logger.Info("Option set config generated", zap.Int("entities", len(result)))
	return result, nil
}
