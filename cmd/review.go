package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/intake/pkg/review"
)

// NewReviewCommand creates the 'review' command group.
func NewReviewCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List and resolve review queue items",
		Long: `Inspect the human review queue.

Items are raised whenever the pipeline cannot act with enough confidence.
Resolving with ATTACH links the item to a property and lets its processing
resume; DISMISS closes it; ESCALATE_NOTE records a note and keeps it open.

Examples:
  intake review list org-1
  intake review list org-1 --limit 20 --cursor <next_cursor>
  intake review resolve org-1 <item-id> --resolution ATTACH --property <property-id>`,
	}
	cmd.AddCommand(newReviewListCommand(deps), newReviewResolveCommand(deps))
	return cmd
}

func newReviewListCommand(deps *Deps) *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list <org-id>",
		Short: "List open review items, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, args []string) error {
			page, err := app.Reviews.List(cmd.Context(), args[0], cursor, limit)
			if err != nil {
				return err
			}
			if done, err := deps.printStructured(cmd.OutOrStdout(), page); done {
				return err
			}

			if len(page.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No open review items.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tITEM\tREASON\tCREATED\tESCALATED")
			for _, it := range page.Items {
				escalated := ""
				if it.EscalatedAt != nil {
					escalated = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, it.ItemType, it.ItemID, it.Reason, it.CreatedAt.Format("2006-01-02 15:04"), escalated)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nMore items: --cursor %s\n", page.NextCursor)
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", review.DefaultPageSize, "Maximum items to return")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue after a previous page")
	return cmd
}

func newReviewResolveCommand(deps *Deps) *cobra.Command {
	var resolution, propertyID, note string

	cmd := &cobra.Command{
		Use:   "resolve <org-id> <item-id>",
		Short: "Resolve a review item",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(deps, func(cmd *cobra.Command, app *App, args []string) error {
			res, ok := review.ParseResolution(strings.ToUpper(resolution))
			if !ok {
				return fmt.Errorf("unknown resolution %q (want ATTACH, DISMISS or ESCALATE_NOTE)", resolution)
			}
			req := review.ResolveRequest{OrgID: args[0], ID: args[1], Resolution: res, Note: note}
			if propertyID != "" {
				req.PropertyID = &propertyID
			}

			item, err := app.Reviews.Resolve(cmd.Context(), req)
			if err != nil {
				return err
			}
			if done, err := deps.printStructured(cmd.OutOrStdout(), item); done {
				return err
			}
			if item.IsOpen() {
				fmt.Fprintf(cmd.OutOrStdout(), "Noted %s; item stays open\n", item.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s as %s\n", item.ID, *item.Resolution)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "ATTACH, DISMISS or ESCALATE_NOTE")
	cmd.Flags().StringVarP(&propertyID, "property", "p", "", "Property id (ATTACH)")
	cmd.Flags().StringVar(&note, "note", "", "Reviewer note")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}
