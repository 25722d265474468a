package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/ui"
)

// printReport writes one line per reconciler and one per failed counterpart.
func printReport(w io.Writer, report *reconcile.Report, err error) {
	if report == nil {
		if err != nil {
			fmt.Fprintf(w, "   %s\n", ui.Status(ui.IconFail, err.Error()))
		}
		return
	}
	if len(report.Results) == 0 && err == nil {
		fmt.Fprintf(w, "   %s\n", ui.Status(ui.IconSkip, "no relationships to reconcile"))
		return
	}

	for _, res := range report.Results {
		icon := ui.IconPass
		if len(res.Failed) > 0 {
			icon = ui.IconWarn
		}
		fmt.Fprintf(w, "   %s\n", ui.Status(icon, fmt.Sprintf("%s: %d updated, %d unchanged, %d skipped, %d failed",
			res.Reconciler, len(res.Updated), len(res.Unchanged), len(res.Skipped), len(res.Failed))))

		failed := make([]string, 0, len(res.Failed))
		for id := range res.Failed {
			failed = append(failed, id)
		}
		slices.Sort(failed)
		for _, id := range failed {
			fmt.Fprintf(w, "     %s %s\n", ui.RenderMuted(id), res.Failed[id])
		}
	}

	// Aborted reconcilers leave no result, only an error.
	if err != nil && report.Failed() == 0 {
		fmt.Fprintf(w, "   %s\n", ui.Status(ui.IconFail, err.Error()))
	}
}
