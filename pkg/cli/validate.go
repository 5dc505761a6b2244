package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/config"
	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/metadata"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/schemadiff"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
	"github.com/vantera-data/dataverse-sync/pkg/storage/postgres"
	"github.com/vantera-data/dataverse-sync/pkg/storage/sqlite"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

func newValidateSchemaCommand() *cobra.Command {
	var (
		dbType       string
		jsonReport   string
		mdReport     string
		entitiesPath string
		envFile      string
	)

	cmd := &cobra.Command{
		Use:   "validate-schema",
		Short: "Compare Dataverse $metadata against the local store's schema",
		Long: `Fetches $metadata, projects the configured entities onto the target
database's types, reads the observed schema, and reports every difference as
JSON and Markdown. Exits non-zero when any error-severity difference is
found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			target, err := parseDBType(dbType)
			if err != nil {
				return err
			}

			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			entities, err := config.LoadEntities(entitiesPath)
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.StoreTarget()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			reader, closeReader, err := openSchemaReader(ctx, cfg, target, logger)
			if err != nil {
				return err
			}
			defer closeReader()

			tokens := dataverse.NewTokenSource(cfg.APIURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, logger)
			client := dataverse.NewClient(cfg.APIURL, tokens, dataverse.DefaultMaxConcurrent, logger)

			xmlContent, err := client.Metadata(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch $metadata: %w", err)
			}
			allSchemas, err := metadata.NewParser(target, logger).Parse([]byte(xmlContent), nil)
			if err != nil {
				return fmt.Errorf("failed to parse $metadata: %w", err)
			}

			names := make([]string, 0, len(entities))
			for _, entity := range entities {
				names = append(names, entity.Name)
			}
			dvSchemas, missing := metadata.Select(allSchemas, names)
			for _, name := range missing {
				logger.Warn("Entity in config but not in $metadata", zap.String("entity", name))
			}

			diffs, dvCompared, dbCompared, err := compareSchemas(ctx, reader, entities, dvSchemas, target)
			if err != nil {
				return err
			}

			report := schemadiff.BuildReport(diffs, dvCompared, dbCompared)
			if err := report.WriteJSON(jsonReport); err != nil {
				return err
			}
			if err := schemadiff.WriteMarkdown(mdReport, diffs, dvCompared, dbCompared); err != nil {
				return err
			}
			logger.Info("Validation reports written",
				zap.String("json", jsonReport),
				zap.String("markdown", mdReport))

			summary, passed := schemadiff.RenderSummary(diffs, len(dvCompared))
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			if !passed {
				return errors.New("schema validation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbType, "db-type", "", "store to validate against: sqlite or postgresql (default: whichever is configured)")
	cmd.Flags().StringVar(&jsonReport, "json-report", schemadiff.DefaultJSONReportPath, "path for the JSON report")
	cmd.Flags().StringVar(&mdReport, "md-report", schemadiff.DefaultMarkdownReportPath, "path for the Markdown report")
	cmd.Flags().StringVar(&entitiesPath, "entities-config", "entities_config.json", "path to the entities config document")
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to an env file supplying DATAVERSE_* and store variables")
	return cmd
}

// parseDBType maps the --db-type flag onto a typemap target. Empty means
// auto-detect from the configured store.
func parseDBType(value string) (typemap.Target, error) {
	switch value {
	case "":
		return "", nil
	case "sqlite":
		return typemap.SQLite, nil
	case "postgresql":
		return typemap.Postgres, nil
	default:
		return "", fmt.Errorf("%w: unknown --db-type %q (use sqlite or postgresql)", apperrors.ErrConfig, value)
	}
}

// openSchemaReader opens the observed-schema source for the chosen target.
// The returned func releases the underlying connection.
func openSchemaReader(ctx context.Context, cfg *config.Config, target typemap.Target, logger *zap.Logger) (storage.SchemaReader, func(), error) {
	if target == typemap.Postgres {
		if cfg.PostgresConnString == "" {
			return nil, nil, fmt.Errorf("%w: --db-type postgresql needs POSTGRES_CONNECTION_STRING", apperrors.ErrConfig)
		}
		reader, err := postgres.NewReader(ctx, cfg.PostgresConnString, logger)
		if err != nil {
			return nil, nil, err
		}
		return reader, reader.Close, nil
	}

	if cfg.SQLiteDBPath == "" {
		return nil, nil, fmt.Errorf("%w: --db-type sqlite needs SQLITE_DB_PATH", apperrors.ErrConfig)
	}
	store, err := sqlite.Open(cfg.SQLiteDBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// compareSchemas strips the store's bookkeeping columns from each observed
// table and compares what remains against the metadata projection, keyed by
// singular entity name. Tables that do not exist yet surface as table-level
// differences from CompareAll.
func compareSchemas(
	ctx context.Context,
	reader storage.SchemaReader,
	entities []models.EntityConfig,
	dvSchemas map[string]models.TableSchema,
	target typemap.Target,
) ([]models.SchemaDifference, map[string]models.TableSchema, map[string]models.TableSchema, error) {
	tables := make([]string, 0, len(entities))
	for _, entity := range entities {
		tables = append(tables, entity.APIName)
	}
	dbSchemas, err := reader.Schemas(ctx, tables)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read database schemas: %w", err)
	}

	dvCompared := make(map[string]models.TableSchema, len(dvSchemas))
	dbCompared := make(map[string]models.TableSchema, len(dbSchemas))
	for _, entity := range entities {
		dvSchema, inMetadata := dvSchemas[entity.Name]
		if !inMetadata {
			continue
		}
		dbSchema, hasTable := dbSchemas[entity.APIName]
		if !hasTable {
			dvCompared[entity.Name] = dvSchema
			continue
		}
		filtered := schemadiff.StripSystemColumns(dbSchema, dvSchema.PrimaryKey, entity.Name)
		dvCompared[entity.Name] = schemadiff.AdjustPhantomPK(dvSchema, filtered, entity.Name)
		dbCompared[entity.Name] = filtered
	}

	comparer := schemadiff.NewComparer(target)
	return comparer.CompareAll(dvCompared, dbCompared), dvCompared, dbCompared, nil
}
