// Package main provides the intake CLI entry point.
// intake runs the inbound content pipeline: workers, the recovery sweep,
// the review API and the operational commands around them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/intake/cmd"
	"github.com/otherjamesbrown/intake/pkg/buildinfo"
)

// newRootCommand builds the command tree over deps.
func newRootCommand(deps *cmd.Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "intake",
		Short: "Inbound content intake pipeline",
		Long: `intake attaches inbound messages, documents and voice notes to agency
properties, classifies them, transcribes and summarises audio, extracts
visit insights, and routes anything uncertain to a human review queue.

Configuration is read from --config (default ./intake.yaml when present)
and INTAKE_* environment variables, which take precedence.

COMMON WORKFLOWS:
  Run the pipeline:   intake migrate up  →  intake worker --api
  Triage:             intake review list <org>  →  intake review resolve <org> <id> -r ATTACH -p <property>
  Re-run an item:     intake enqueue message_ai <org> <message-id>
  Local sandbox:      INTAKE_STORE=memory intake serve --workers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(deps.ConfigPath, "config", "", "config file (default ./intake.yaml)")
	root.PersistentFlags().StringVarP(deps.Output, "output", "o", "text", "output format: text, json, yaml")

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{cmd.NewWorkerCommand(deps), cmd.NewServeCommand(deps), cmd.NewSweepCommand(deps)} {
		c.GroupID = "run"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{cmd.NewReviewCommand(deps), cmd.NewEnqueueCommand(deps)} {
		c.GroupID = "ops"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{cmd.NewMigrateCommand(deps), cmd.NewCredentialsCommand(deps), newVersionCommand(deps)} {
		c.GroupID = "setup"
		root.AddCommand(c)
	}
	return root
}

// newVersionCommand prints build information.
func newVersionCommand(deps *cmd.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of the intake binary.

Examples:
  intake version
  intake version --output json`,
		RunE: func(c *cobra.Command, _ []string) error {
			info := buildinfo.Get("intake")
			if *deps.Output == "json" {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(c.OutOrStdout(), "intake %s\n", buildinfo.String())
			fmt.Fprintf(c.OutOrStdout(), "  go: %s\n", info.GoVersion)
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfgFile, output string
	root := newRootCommand(cmd.DefaultDeps(&cfgFile, &output))

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
