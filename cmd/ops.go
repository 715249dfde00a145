package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/intake/pkg/db"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

var errNeedsPostgres = errors.New("migrations require the postgres store")

// NewSweepCommand creates the 'sweep' command.
func NewSweepCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep and exit",
		Long: `Close vocals stuck in a non-terminal status for longer than the stale
window after repeated attempts. Each is marked REVIEW_REQUIRED with a
PROCESSING_ERROR review item.

Intended for cron-style scheduling when no long-running worker sweeps.`,
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, _ []string) error {
			res, err := app.Sweeper().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			out := struct {
				Scanned int `json:"scanned" yaml:"scanned"`
				Failed  int `json:"failed" yaml:"failed"`
				Skipped int `json:"skipped" yaml:"skipped"`
				Errors  int `json:"errors" yaml:"errors"`
			}{res.Scanned, res.Failed, res.Skipped, res.Errors}
			if done, err := deps.printStructured(cmd.OutOrStdout(), out); done {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, closed %d, skipped %d, errors %d\n",
				res.Scanned, res.Failed, res.Skipped, res.Errors)
			return nil
		}),
	}
}

// NewEnqueueCommand creates the 'enqueue' command.
func NewEnqueueCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-type> <org-id> <entity-id>",
		Short: "Submit a pipeline job",
		Long: `Submit a pipeline job for an existing message, file or vocal.

Job types: message_ai, file_ai, vocal_transcription, vocal_insights.

Examples:
  intake enqueue message_ai org-1 6f1c...
  intake enqueue vocal_transcription org-1 0b9e...`,
		Args: cobra.ExactArgs(3),
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, args []string) error {
			jobType := queues.JobType(args[0])
			id, err := app.Jobs.Enqueue(cmd.Context(), jobType, args[1], args[2])
			if err != nil {
				return err
			}
			out := map[string]string{"job_id": id, "job_type": string(jobType)}
			if done, err := deps.printStructured(cmd.OutOrStdout(), out); done {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s\n", jobType, id)
			return nil
		}),
	}
}

// NewMigrateCommand creates the 'migrate' command with up and status subcommands.
func NewMigrateCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Database schema migrations",
		Aliases: []string{"db"},
		Long: `Apply or inspect the embedded SQL migrations.

Migrations are applied in filename order, each in its own transaction, and
recorded in schema_migrations. Requires the postgres store.`,
	}
	cmd.AddCommand(newMigrateUpCommand(deps), newMigrateStatusCommand(deps))
	return cmd
}

func newMigrateUpCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, _ []string) error {
			if app.DB == nil {
				return errNeedsPostgres
			}
			res, err := db.RunMigrations(cmd.Context(), app.DB)
			if err != nil {
				return err
			}
			if done, err := deps.printStructured(cmd.OutOrStdout(), res); done {
				return err
			}
			for _, v := range res.Applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d applied, %d already up to date\n", len(res.Applied), len(res.Skipped))
			return nil
		}),
	}
}

func newMigrateStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, _ []string) error {
			if app.DB == nil {
				return errNeedsPostgres
			}
			status, err := db.GetMigrationStatus(cmd.Context(), app.DB)
			if err != nil {
				return err
			}
			if done, err := deps.printStructured(cmd.OutOrStdout(), status); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT")
			for _, m := range status.Applied {
				fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, m := range status.Pending {
				fmt.Fprintf(w, "%s\tpending\t-\n", m.Version)
			}
			return w.Flush()
		}),
	}
}
