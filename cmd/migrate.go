package cmd

import (
	"context"
	"fmt"

	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/24hmood24/checkserialnum/internal/infrastructure"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Applies the schema for accounts, purchase certificates and theft reports,
then creates or promotes the bootstrap administrator when one is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("Running database migrations...")

	db, err := infrastructure.NewDatabase(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	for _, model := range core.Models() {
		if err := db.Migrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
		logger.Infof("Migrated %T", model)
	}

	if err := bootstrapAdmin(ctx, db); err != nil {
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

func bootstrapAdmin(ctx context.Context, db *infrastructure.Database) error {
	auth := cfg.Auth
	if auth.BootstrapAdminID == "" {
		return nil
	}

	store, err := core.NewDataStore(db.DB)
	if err != nil {
		return err
	}
	accounts := core.NewAccountService(store, nil, logger)

	user, changed, err := accounts.EnsureAdmin(ctx, core.RegisterUserRequest{
		NationalID:  auth.BootstrapAdminID,
		FullName:    auth.BootstrapAdminName,
		PhoneNumber: auth.BootstrapPhone,
		Password:    auth.BootstrapAdminPass,
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap administrator: %w", err)
	}

	entry := logger.WithField("user_id", user.ID)
	if changed {
		entry.Info("Bootstrap administrator ready")
	} else {
		entry.Info("Bootstrap administrator already present")
	}
	return nil
}
