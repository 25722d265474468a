package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alibi-studio/refsync/internal/config"
	"github.com/alibi-studio/refsync/internal/content/daemon"
	"github.com/alibi-studio/refsync/internal/content/dashboard"
	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/store"
	"github.com/alibi-studio/refsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the studio service with the live dashboard",
	Long: `Serve document actions over HTTP and stream publish and reconcile events
to WebSocket clients.

Reconciliation runs on a bounded worker pool after each publish returns.
Republishing a document while its reconciliation is still queued collapses
the two into one run.

Endpoints:
  POST /documents/{id}/{action}   run publish, duplicate or sync
  GET  /ws                        event stream
  GET  /health                    health check
  GET  /metrics                   Prometheus metrics

Editing the config file while serving applies a new log level immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		statsEvery, _ := cmd.Flags().GetDuration("stats-interval")

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		exec := daemon.New(&daemon.Config{
			Workers:          cfg.Daemon.Workers,
			DebounceInterval: cfg.Daemon.Debounce,
			QueueSize:        cfg.Daemon.QueueSize,
			Logger:           logger.Logger,
		})

		var handler *dashboard.Handler
		svc := newServices(db,
			publish.WithExecutor(exec),
			publish.WithObserver(func(report *reconcile.Report, err error) {
				handler.OnReconciled(report, err)
			}),
		)

		server := dashboard.NewServer(&dashboard.Config{
			Port:    port,
			Actions: svc.studio,
			Logger:  logger.Logger,
		})
		handler = dashboard.NewHandler(server, logger.Logger)
		server.OnAction(handler.OnAction)
		server.OnConnect(handler.Welcome)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if vcfg.ConfigFileUsed() != "" {
			config.Watch(vcfg, logger.Logger, func(c *config.Config) {
				if err := logger.SetLevel(c.Log.Level); err != nil {
					logger.Warn("invalid log level", "error", err)
				}
			})
		}

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		out := cmd.OutOrStdout()
		addr := server.GetAddr()
		fmt.Fprintf(out, "%s Studio service started on http://%s\n", ui.RenderAccent("🚀"), addr)
		fmt.Fprintf(out, "   Store: %s\n", db.Path())
		fmt.Fprintf(out, "   WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Fprintf(out, "   Workers: %d\n", cfg.Daemon.Workers)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return exec.Start(gctx) })
		g.Go(func() error {
			refreshStats(gctx, db, handler, statsEvery)
			return nil
		})
		err = g.Wait()

		fmt.Fprintln(out, "\nShutting down...")
		if serr := server.Stop(); serr != nil && err == nil {
			err = serr
		}
		if err == nil || errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "Studio service stopped")
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on (overrides dashboard.port)")
	serveCmd.Flags().Duration("stats-interval", 5*time.Second, "how often to broadcast document counts")
	rootCmd.AddCommand(serveCmd)
}

// refreshStats broadcasts document counts until ctx is done.
func refreshStats(ctx context.Context, db *store.DB, handler *dashboard.Handler, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		counts, err := db.Counts(ctx)
		if err == nil {
			handler.UpdateStats(counts)
		} else if ctx.Err() == nil {
			logger.Warn("failed to count documents", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
