// Package cli implements the dataverse-sync command line interface: the
// sync workflow itself, standalone schema validation, and option set config
// generation from an already-synced database.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/logging"
)

// Execute runs the CLI, printing the failure and exiting non-zero when a
// command returns an error.
func Execute(version string) {
	root := NewRootCommand(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "dataverse-sync",
		Short: "Synchronize Microsoft Dataverse entities into a local versioned store",
		Long: `dataverse-sync pulls entities from the Dataverse Web API into a local
database, keeping the full change history of every record: updates close the
previous version and open a new one instead of overwriting.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging with the development encoder")

	root.AddCommand(newSyncCommand())
	root.AddCommand(newValidateSchemaCommand())
	root.AddCommand(newOptionSetConfigCommand())
	return root
}

// commandLogger builds the process logger honoring the persistent verbose
// flag.
func commandLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// signalContext derives a context canceled on SIGINT or SIGTERM so in-flight
// requests and retry sleeps stop promptly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
