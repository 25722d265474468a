package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/ui"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <type> <id>",
	GroupID: "sync",
	Short:   "Reconcile the relationships of one published document",
	Long: `Run the reconcilers for a published document as if it had just been
published. Use this to repair counterparts left stale by a failed
reconciliation; failures are never retried automatically.

For a director work this is the "sync director works" action: the work's
director is rebuilt from every published work that names it.

Examples:
  refsync reconcile project p-1
  refsync reconcile directorWork w-7
  refsync reconcile all --type project --since "2 hours ago"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseType(args[0])
		if err != nil {
			return err
		}
		id := schema.PublishedID(args[1])

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		doc, err := db.FetchOne(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to load published %s: %w", id, err)
		}
		if doc.Type != typ {
			return fmt.Errorf("%s is a %s, not a %s", id, doc.Type, typ)
		}

		svc := newServices(db)
		report, err := svc.dispatcher.Dispatch(cmd.Context(), doc, nil)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s %s\n", ui.RenderAccent("→"), doc.Type, doc.ID)
		printReport(out, report, err)
		return err
	},
}

var reconcileAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Reconcile every published document",
	Long: `Dispatch every matching published document through its reconcilers.

--since accepts an RFC 3339 timestamp or a natural phrase such as
"yesterday" or "3 hours ago".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeNames, _ := cmd.Flags().GetStringSlice("type")
		sinceText, _ := cmd.Flags().GetString("since")

		types := schema.SyncedTypes
		if len(typeNames) > 0 {
			types = nil
			for _, name := range typeNames {
				typ, err := parseType(name)
				if err != nil {
					return err
				}
				types = append(types, typ)
			}
		}

		var since time.Time
		if sinceText != "" {
			var err error
			if since, err = parseSince(sinceText, time.Now()); err != nil {
				return err
			}
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		svc := newServices(db)

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		start := time.Now()
		var total, updated, failedDocs int
		for _, typ := range types {
			docs, err := db.FetchMany(ctx, schema.Query{Type: typ, PublishedOnly: true, UpdatedSince: since})
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if err := ctx.Err(); err != nil {
					return err
				}
				total++
				report, err := svc.dispatcher.Dispatch(ctx, doc, nil)
				if report != nil {
					updated += report.Updated()
				}
				if err != nil {
					failedDocs++
					fmt.Fprintf(out, "%s %s %s\n", ui.RenderWarn(ui.IconWarn), doc.Type, doc.ID)
					printReport(out, report, err)
				}
			}
		}

		icon := ui.RenderPass(ui.IconPass)
		if failedDocs > 0 {
			icon = ui.RenderWarn(ui.IconWarn)
		}
		fmt.Fprintf(out, "%s Reconciled %d documents in %v\n", icon, total, time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "   Updated: %d\n", updated)
		fmt.Fprintf(out, "   With failures: %d\n", failedDocs)
		if failedDocs > 0 {
			return fmt.Errorf("%d documents reconciled with failures", failedDocs)
		}
		return nil
	},
}

func init() {
	reconcileAllCmd.Flags().StringSlice("type", nil, "only reconcile these types (repeatable)")
	reconcileAllCmd.Flags().String("since", "", "only documents updated since this time")

	reconcileCmd.AddCommand(reconcileAllCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func parseType(name string) (schema.Type, error) {
	for _, t := range schema.SyncedTypes {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown document type %q", name)
}

var errUnparsedTime = errors.New("could not understand time")

// parseSince reads an RFC 3339 timestamp or a relative phrase anchored at
// now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", errUnparsedTime, s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w %q", errUnparsedTime, s)
	}
	return r.Time, nil
}
