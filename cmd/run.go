package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/intake/pkg/api"
	"github.com/otherjamesbrown/intake/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

// runOptions selects the long-running components started by worker and serve.
type runOptions struct {
	api     bool
	workers bool
	sweep   bool
}

// NewWorkerCommand creates the 'worker' command.
func NewWorkerCommand(deps *Deps) *cobra.Command {
	var noSweep, withAPI bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers and the recovery sweep",
		Long: `Run the pipeline worker pools for every job type until interrupted.

The recovery sweep runs in the same process unless --no-sweep is set. Run
exactly one sweeping worker per deployment or several sweeps will race on
the same stale vocals (they are idempotent, only wasteful).

Examples:
  intake worker
  intake worker --no-sweep
  intake worker --api`,
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, _ []string) error {
			return run(cmd.Context(), app, runOptions{api: withAPI, workers: true, sweep: !noSweep})
		}),
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Do not run the recovery sweep in this process")
	cmd.Flags().BoolVar(&withAPI, "api", false, "Also serve the HTTP API")
	return cmd
}

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *Deps) *cobra.Command {
	var withWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review and job HTTP API",
		Long: `Serve the HTTP API: review queue listing and resolution, job submission,
/healthz, /version and /metrics.

With the memory store, pass --workers so jobs submitted over HTTP are
processed by the same process.

Examples:
  intake serve
  INTAKE_STORE=memory intake serve --workers`,
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, _ []string) error {
			return run(cmd.Context(), app, runOptions{api: true, workers: withWorkers, sweep: withWorkers})
		}),
	}

	cmd.Flags().BoolVar(&withWorkers, "workers", false, "Also run pipeline workers and the recovery sweep")
	return cmd
}

func run(ctx context.Context, app *App, opts runOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	if opts.workers {
		pm, err := app.Workers(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return pm.Run(gctx) })
	}
	if opts.sweep {
		sweeper := app.Sweeper()
		g.Go(func() error { return sweeper.Run(gctx) })
	}
	if opts.api {
		srv := &http.Server{
			Addr:              app.Config.HTTPAddr,
			Handler:           app.APIHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			app.Logger.Info("HTTP API listening", logging.F("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	app.Logger.Info("Shut down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// APIHandler builds the HTTP handler over the app's services.
func (a *App) APIHandler() http.Handler {
	deps := api.Deps{
		Reviews:  a.Reviews,
		Jobs:     a.Jobs,
		Gatherer: a.Registry,
		Logger:   a.Logger,
	}
	if a.DB != nil {
		deps.Health = a.DB
	}
	return api.NewHandler(deps)
}
