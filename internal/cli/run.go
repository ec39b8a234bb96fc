package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	httpserver "github.com/hamychatgpt/Rasad-v2/internal/server"
	"github.com/hamychatgpt/Rasad-v2/internal/store"
)

func newRunCommand(opts *options) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collection loop and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if migrate && cfg.Database.Driver == "postgres" {
				if err := store.MigrateUp(cfg.Database, log); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			app, err := Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := httpserver.New(app.API, cfg.Server, app.Metrics, log.With(logger.String("component", "http")))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return app.Runner.Start(gctx) })
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before starting")
	return cmd
}

func newCollectOnceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "collect-once",
		Short: "Collect every due topic once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rep, err := app.API.CollectOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d collected=%d skipped=%d failed=%d created=%d\n",
				rep.Due, rep.Collected, rep.Skipped, rep.Failed, rep.Created)
			return nil
		},
	}
}
