package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/importer"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "content",
	Short:   "Import documents from JSONL or YAML",
	Long: `Import documents in bulk. Records are saved as drafts; with --publish
each draft is published and its relationships reconciled, as if an editor
had pressed publish.

The format follows the file extension (.jsonl, .ndjson, .json, .yaml,
.yml) unless --format is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		typeName, _ := cmd.Flags().GetString("type")
		doPublish, _ := cmd.Flags().GetBool("publish")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")

		var format importer.Format
		if formatName != "" {
			var err error
			if format, err = importer.ParseFormat(formatName); err != nil {
				return err
			}
		}
		opts := importer.Options{DefaultType: schema.Type(typeName), Publish: doPublish, DryRun: dryRun}

		if doPublish && !dryRun && !yes {
			ok, err := confirm("Publish every imported document?",
				"Published documents update the relationship fields of everything they reference.")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("import cancelled (pass --yes to publish without asking)")
			}
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := newServices(db)
		im := importer.New(db, importer.WithPublisher(svc.studio), importer.WithLogger(logger.Logger))

		start := time.Now()
		result, err := im.ImportFile(cmd.Context(), args[0], format, opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		verb := "Imported"
		if dryRun {
			verb = "Validated"
		}
		icon := ui.RenderPass(ui.IconPass)
		if len(result.Errors) > 0 {
			icon = ui.RenderWarn(ui.IconWarn)
		}
		fmt.Fprintf(out, "%s %s %s in %v\n", icon, verb, args[0], time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "   Read: %d\n", result.Read)
		if !dryRun {
			fmt.Fprintf(out, "   Drafts saved: %d\n", result.Saved)
			fmt.Fprintf(out, "   Published: %d\n", result.Published)
		}
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "   %s\n", ui.Status(ui.IconFail, msg))
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d records failed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("format", "", "input format: jsonl or yaml")
	importCmd.Flags().String("type", "", "type for records without _type")
	importCmd.Flags().Bool("publish", false, "publish each document after import")
	importCmd.Flags().Bool("dry-run", false, "validate without writing")
	importCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(importCmd)
}
