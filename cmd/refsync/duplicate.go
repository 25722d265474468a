package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/ui"
)

var duplicateCmd = &cobra.Command{
	Use:     "duplicate <id>",
	GroupID: "content",
	Short:   "Create a published copy of a document",
	Long: `Create a new published document with the content of <id>. The title and
name get a " (Copy)" suffix and the slug a "-copy" suffix. Relationship
fields that are maintained from the other side are not copied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(fmt.Sprintf("Duplicate %s?", args[0]), "The copy is published immediately.")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("duplicate cancelled (pass --yes to skip the prompt)")
			}
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		outcome, err := newServices(db).studio.Run(cmd.Context(), publish.ActionDuplicate, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.RenderPass(ui.IconPass), outcome.Message)
		fmt.Fprintf(cmd.OutOrStdout(), "   ID: %s\n", outcome.Document.ID)
		return nil
	},
}

func init() {
	duplicateCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(duplicateCmd)
}
