package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "content",
	Short:   "Show document counts and pending drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		path := cfg.Store.Path
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s Content store not initialized at %s\n", ui.RenderWarn(ui.IconWarn), path)
			fmt.Fprintf(cmd.OutOrStdout(), "   Run 'refsync import' to load documents\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check store: %w", err)
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.Counts(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"path": path, "size": info.Size(), "types": counts})
		}

		var rows [][]string
		var published, drafts int
		for _, t := range schema.SyncedTypes {
			c := counts[t]
			published += c.Published
			drafts += c.Drafts
			rows = append(rows, []string{string(t), strconv.Itoa(c.Published), strconv.Itoa(c.Drafts)})
		}
		for t, c := range counts {
			if !t.IsSynced() {
				published += c.Published
				drafts += c.Drafts
				rows = append(rows, []string{string(t), strconv.Itoa(c.Published), strconv.Itoa(c.Drafts)})
			}
		}

		fmt.Fprintf(out, "\n%s Content Store Status\n\n", ui.RenderAccent("📊"))
		fmt.Fprintf(out, "Location: %s\n", path)
		fmt.Fprintf(out, "Size: %s\n", formatSize(info.Size()))
		fmt.Fprintf(out, "Published: %d\n", published)
		fmt.Fprintf(out, "Drafts pending: %d\n\n", drafts)
		fmt.Fprint(out, ui.Table([]string{"TYPE", "PUBLISHED", "DRAFTS"}, rows))
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "output JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}
