// Command fixit runs the Fix It maintenance API.
//
//	@title						Fixit API
//	@version					1.0
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fixit/internal/app"
	"fixit/internal/config"
	"fixit/internal/logging"
	"fixit/internal/repositories"
	"fixit/pkg/database"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fixit",
		Short:         "Property maintenance API",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		tickCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(cfg.Logging), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the scheduler and the delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			serveErr := a.Serve(ctx)
			return errors.Join(serveErr, a.Close())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			if !cfg.UsesDatabase() {
				return errors.New("DATABASE_URL environment variable is required")
			}

			ctx := cmd.Context()
			pool, err := database.NewPool(ctx, cfg.Database.URL, database.PoolOptions{
				MaxConns:       1,
				ConnectTimeout: cfg.Database.Timeout,
			}, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repositories.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("Schema applied")
			return nil
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run every scheduler job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			runErr := a.RunOnce(ctx)
			return errors.Join(runErr, a.Close())
		},
	}
}
