package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/config"
	"github.com/vantera-data/dataverse-sync/pkg/storage/sqlite"
	"github.com/vantera-data/dataverse-sync/pkg/syncer"
)

func newOptionSetConfigCommand() *cobra.Command {
	var (
		dbPath       string
		entitiesPath string
	)

	cmd := &cobra.Command{
		Use:   "generate-optionset-config",
		Short: "Derive an option set config from a synced database",
		Long: `Scans the _optionset_* lookup tables of a synced database and maps each
field back to the entities carrying an integer column of the same name. The
resulting JSON document goes to stdout; save it and pass it as
--optionsets-config on the next full sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			entities, err := config.LoadEntities(entitiesPath)
			if err != nil {
				return err
			}

			// Opening a store creates the file; require an existing database
			// so a typoed path fails instead of scanning a fresh empty one.
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("%w: database not found: %s (run sync first)", apperrors.ErrConfig, dbPath)
			}
			store, err := sqlite.Open(dbPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			optionSets, err := syncer.GenerateOptionSetConfig(ctx, store, entities, logger)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(optionSets, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal option set config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "dataverse_complete.db", "path to the synced SQLite database")
	cmd.Flags().StringVar(&entitiesPath, "entities-config", "entities_config.json", "path to the entities config document")
	return cmd
}
