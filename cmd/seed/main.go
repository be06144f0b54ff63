package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"onboarding/backend/internal/config"
	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/seed"
)

func main() {
	var configPath, adminEmail string

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Seed a demo organization, its profiles and an onboarding workflow",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, adminEmail)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "email of the admin profile (default dev_email from config)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, adminEmail string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if adminEmail == "" {
		adminEmail = cfg.DevEmail
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	res, err := seed.Run(ctx, repository.NewPostgresStore(pool), adminEmail, logger)
	if err != nil {
		return err
	}
	logger.Info("Seeding complete!", "org_id", res.OrgID, "created", res.Created)
	return nil
}
