package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:     "publish <id>...",
	GroupID: "content",
	Short:   "Publish drafts and reconcile their relationships",
	Long: `Publish the draft of each document, then reconcile the relationship
fields of every document it references.

Reconciliation runs after the publish has completed. A reconcile failure is
reported but never undoes the publish; repair it later with
'refsync reconcile'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		svc := newServices(db, publish.WithObserver(func(report *reconcile.Report, err error) {
			printReport(out, report, err)
		}))

		var failed []error
		for _, id := range args {
			fmt.Fprintf(out, "%s %s\n", ui.RenderAccent("→"), id)
			outcome, err := svc.studio.Run(cmd.Context(), publish.ActionPublish, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail(ui.IconFail), id, err)
				failed = append(failed, fmt.Errorf("%s: %w", id, err))
				continue
			}
			fmt.Fprintf(out, "%s %s\n", ui.RenderPass(ui.IconPass), outcome.Message)
		}
		return errors.Join(failed...)
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
