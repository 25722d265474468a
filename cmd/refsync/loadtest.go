package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/loadtest"
	"github.com/alibi-studio/refsync/internal/content/store"
	"github.com/alibi-studio/refsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Publish a synthetic studio from concurrent editors",
	Long: `Seed a throwaway content store with services, sub-services, directors
and pending project and work drafts, publish every draft from --editors
concurrent goroutines, then verify that the relationship graph is closed.

The configured store is never touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		editors, _ := flags.GetInt("editors")
		keep, _ := flags.GetBool("keep")

		p := loadtest.DefaultParams()
		p.Projects, _ = flags.GetInt("projects")
		p.Directors, _ = flags.GetInt("directors")
		p.Seed, _ = flags.GetInt64("seed")

		dir, err := os.MkdirTemp("", "refsync-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		db, err := store.Open(filepath.Join(dir, "content.db"), store.WithLogger(logger.Logger))
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		fx, err := loadtest.Seed(ctx, db, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Seeded %d drafts in %s\n", ui.RenderAccent("→"), len(fx.Drafts), dir)

		svc := newServices(db)
		stats, err := loadtest.RunEditors(ctx, svc.studio, fx.Drafts, editors)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		stats.Print(out)
		fmt.Fprintln(out)

		return reportConsistency(cmd, db)
	},
}

var verifyCmd = &cobra.Command{
	Use:     "verify",
	GroupID: "sync",
	Short:   "Check that every relationship field matches its counterparts",
	Long: `Compare every inverse relationship field in the published graph with
what reconciliation would derive. Fields that disagree are listed with
the ids they miss and the ids nothing on the other side claims; repair
them with 'refsync reconcile'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		return reportConsistency(cmd, db)
	},
}

var errInconsistent = errors.New("relationship graph is inconsistent")

func reportConsistency(cmd *cobra.Command, db *store.DB) error {
	found, err := loadtest.Verify(cmd.Context(), db)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintf(out, "%s\n", ui.Status(ui.IconPass, "relationship graph is consistent"))
		return nil
	}
	fmt.Fprintf(out, "%s\n", ui.Status(ui.IconFail, fmt.Sprintf("%d inconsistent fields", len(found))))
	for _, f := range found {
		fmt.Fprintf(out, "   %s\n", f)
	}
	return errInconsistent
}

func init() {
	loadtestCmd.Flags().Int("editors", 8, "concurrent editors")
	loadtestCmd.Flags().Int("projects", loadtest.DefaultParams().Projects, "project drafts to publish")
	loadtestCmd.Flags().Int("directors", loadtest.DefaultParams().Directors, "directors, each with a fixed number of work drafts")
	loadtestCmd.Flags().Int64("seed", loadtest.DefaultParams().Seed, "random seed for the graph")
	loadtestCmd.Flags().Bool("keep", false, "keep the temporary store")
	rootCmd.AddCommand(loadtestCmd)
	rootCmd.AddCommand(verifyCmd)
}
