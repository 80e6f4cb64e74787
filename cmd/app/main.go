package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SignalGate/internal/di"
	"SignalGate/pkg/config"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/postgres/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "signalgate",
		Short:        "SignalGate - webhook signal ingestion and decision gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return nil, fmt.Errorf("config load failed: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newWorkCmd(load), newMigrateCmd(load))
	return root
}

type configLoader func() (*config.Config, error)

// newServeCmd runs the HTTP server, job workers and alert consumer.
func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer cleanup()

			app.Logger().Info("starting signalgate",
				applogger.String("env", cfg.Environment),
				applogger.Int("strategies", len(cfg.Strategies)))
			return app.Run(cmd.Context())
		},
	}
}

// newWorkCmd drains the job queue without serving HTTP.
func newWorkCmd(load configLoader) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer cleanup()

			runner := app.Runner()
			if once {
				n, err := runner.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				app.Logger().Info("job batch processed", applogger.Int("jobs", n))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := runner.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return runner.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "claim and run a single batch, then exit")
	return cmd
}

// newMigrateCmd applies or rolls back the Postgres schema.
func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply (up) or roll back one step of (down) the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(migrations.Up), string(migrations.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Postgres.DSN == "" {
				return fmt.Errorf("postgres.dsn is not configured")
			}
			l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
			if err != nil {
				log.Printf("logger init failed: %v", err)
				return err
			}
			return migrations.Apply(cmd.Context(), cfg.Postgres.DSN, migrations.Direction(args[0]), l)
		},
	}
}
