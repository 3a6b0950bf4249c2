package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"nft-reward-system/config"
	"nft-reward-system/database"
	"nft-reward-system/handlers"
	"nft-reward-system/middleware"
	"nft-reward-system/services"
	"nft-reward-system/workers"
	"nft-reward-system/workflow"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nft-reward-system",
		Short:        "Durable mint and forge workflows for game rewards",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTickCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}

// withContainer loads config, wires services and runs fn.
func withContainer(fn func(ctx context.Context, c *container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(_ context.Context, c *container) error {
				return database.Migrate(c.db)
			})
		},
	}
}

func newTickCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Advance every due workflow once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *container) error {
				n, err := c.worker.Tick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "advanced %d workflow(s)\n", n)
				return nil
			})
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Print the public status of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *container) error {
				view, err := c.status.GetStatus(ctx, args[0])
				if errors.Is(err, workflow.ErrNotFound) {
					return fmt.Errorf("workflow %s not found", args[0])
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			})
		},
	}
}

func newServeCommand() *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the workflow worker and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *container) error {
				return serve(ctx, c, !noWorkers)
			})
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "api-only", false, "serve HTTP only, without tick worker and scheduled jobs")
	return cmd
}

func serve(ctx context.Context, c *container, runWorkers bool) error {
	if err := database.Migrate(c.db); err != nil {
		return err
	}

	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware(c.cfg.ServiceToken))
	app.Use(middleware.UserContextMiddleware())
	admin := app.Group("/admin", middleware.RequireRole("admin"))

	handlers.SetupWorkflowRoutes(app, admin, &handlers.WorkflowHandlers{
		Workflows:   c.workflows,
		Status:      c.status,
		Eligibility: c.eligibility,
	})
	handlers.SetupCatalogRoutes(app, admin, c.catalog)

	if runWorkers {
		tickSched, err := c.worker.Start(ctx, c.cfg.TickInterval)
		if err != nil {
			return fmt.Errorf("start workflow worker: %w", err)
		}
		defer func() { _ = tickSched.Shutdown() }()

		maintSched, err := services.StartMaintenanceScheduler(ctx, c.eligibility, c.archive, c.cfg.SweepInterval, c.cfg.ArchiveInterval)
		if err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() { _ = maintSched.Shutdown() }()

		if c.cfg.WalletSyncURL != "" {
			client := workers.NewWalletSyncClient(c.db, c.cfg.WalletSyncURL, c.cfg.ServiceToken)
			go workers.PollWallets(ctx, client, c.cfg.WalletSyncInterval)
			log.Printf("✅ Wallet polling running (every %s)", c.cfg.WalletSyncInterval)
		} else {
			log.Println("⚠️  WALLET_SYNC_URL not set, wallet mirror will not be refreshed")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + c.cfg.Port)
	}()
	log.Printf("✅ Server running on http://localhost:%s", c.cfg.Port)

	select {
	case <-ctx.Done():
		log.Println("Shutting down server...")
		return app.Shutdown()
	case err := <-errCh:
		return err
	}
}
