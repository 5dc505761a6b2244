package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/config"
	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/logging"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage/sqlite"
	"github.com/vantera-data/dataverse-sync/pkg/syncer"
)

func newSyncCommand() *cobra.Command {
	var (
		verify         bool
		entitiesPath   string
		optionSetsPath string
		envFile        string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the full synchronization workflow",
		Long: `Validates the local schema against $metadata, creates missing entity
tables, pulls unfiltered entities in full or incrementally, then pulls
filtered entities for the IDs the synced data references. With --verify the
run ends with a foreign key integrity scan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			entities, err := config.LoadEntities(entitiesPath)
			if err != nil {
				return err
			}
			optionSets, err := config.LoadOptionSets(optionSetsPath)
			if err != nil {
				return err
			}
			if cfg.SQLiteDBPath == "" {
				return fmt.Errorf("%w: sync writes through the embedded store, set SQLITE_DB_PATH", apperrors.ErrConfig)
			}

			store, err := sqlite.Open(cfg.SQLiteDBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			tokens := dataverse.NewTokenSource(cfg.APIURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, logger)
			client := dataverse.NewClient(cfg.APIURL, tokens, dataverse.DefaultMaxConcurrent, logger)

			orch := syncer.NewOrchestrator(client, store, syncer.Config{
				Entities:   entities,
				OptionSets: optionSets,
				Verify:     verify,
			}, logger)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			result, err := orch.Run(ctx)
			if err != nil {
				return err
			}

			printSyncResult(cmd, result)
			if !result.Success {
				return errors.New("sync completed with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "verify foreign key integrity after syncing")
	cmd.Flags().StringVar(&entitiesPath, "entities-config", "entities_config.json", "path to the entities config document")
	cmd.Flags().StringVar(&optionSetsPath, "optionsets-config", "", "path to the option set override document")
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to an env file supplying DATAVERSE_* and store variables")
	return cmd
}

func printSyncResult(cmd *cobra.Command, result *models.SyncResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nSync complete: %d added, %d updated\n", result.TotalAdded, result.TotalUpdated)
	for _, msg := range result.ValidationErrors {
		fmt.Fprintf(out, "  validation: %s\n", msg)
	}
	for _, failure := range result.FailedEntities {
		fmt.Fprintf(out, "  failed: %s: %s\n", failure.Name,
			logging.TruncateString(failure.Message, logging.ErrorPreviewLength))
	}
	if result.ReferenceReport != nil && result.ReferenceReport.HasIssues() {
		fmt.Fprintln(out, result.ReferenceReport.Render())
	}
}
