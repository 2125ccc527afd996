package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	republishLimit  int
	republishDryRun bool
)

var republishCmd = &cobra.Command{
	Use:   "republish",
	Short: "Replay lifecycle events from the outbox to Service Bus",
	Long: `Sends the lifecycle events that were written to the local outbox while the
bus was unavailable, then compacts the outbox. Events that keep failing are
dropped after a fixed number of attempts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepublish(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(republishCmd)

	republishCmd.Flags().IntVarP(&republishLimit, "limit", "l", 0, "Maximum number of events to send (0 for all)")
	republishCmd.Flags().BoolVar(&republishDryRun, "dry-run", false, "Show what would be republished without sending")
}

func runRepublish(ctx context.Context) error {
	logger.Info("Starting event republish...")

	if cfg.Storage.WALPath == "" {
		return fmt.Errorf("storage.wal_path is not configured")
	}
	if !republishDryRun && cfg.ServiceBus.ConnectionString == "" {
		return fmt.Errorf("service_bus.connection_string is required to republish")
	}

	outbox, closeOutbox, err := buildOutbox()
	if err != nil {
		return err
	}
	defer closeOutbox()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := outbox.Replay(ctx, republishLimit, republishDryRun)
	if err != nil {
		return fmt.Errorf("republish failed: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"pending":   result.Pending,
		"delivered": result.Delivered,
		"failed":    result.Failed,
		"dry_run":   republishDryRun,
	}).Info("Republish completed")
	return nil
}
