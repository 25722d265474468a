// Command refsync keeps CMS reference fields consistent in both directions.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alibi-studio/refsync/internal/config"
	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/store"
	"github.com/alibi-studio/refsync/internal/logging"
	"github.com/alibi-studio/refsync/internal/telemetry"
	"github.com/alibi-studio/refsync/internal/ui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	noColor bool

	cfg           *config.Config
	vcfg          *viper.Viper
	logger        *logging.Logger
	stopTelemetry telemetry.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "refsync",
	Short: "Bidirectional reference synchronization for a content studio",
	Long: `refsync stores content documents and keeps their relationship fields
consistent: publishing a project updates the services and sub-services it
lists, publishing a director or a director work updates the other side.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { teardown() },
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "content", Title: "Content:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./refsync.toml or ~/.config/refsync/refsync.toml)")
	flags.String("db", "", "content database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// setup loads configuration and builds the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	if noColor {
		ui.DisableColor()
	}

	vcfg = config.New(cfgFile)
	flags := cmd.Root().PersistentFlags()
	if err := vcfg.BindPFlag("store.path", flags.Lookup("db")); err != nil {
		return err
	}
	if err := vcfg.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		return err
	}
	if err := config.Read(vcfg); err != nil {
		return err
	}

	var err error
	if cfg, err = config.Decode(vcfg); err != nil {
		return err
	}

	logger, err = logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}

	if stopTelemetry, err = telemetry.Init(cmd.Context(), cfg.Trace, version); err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	if cfg.Trace.Enabled {
		logger.Debug("tracing enabled", "exporter", cfg.Trace.Exporter, "endpoint", cfg.Trace.Endpoint)
	}
	return nil
}

// teardown flushes spans and closes the log file. It runs after every
// command, failed ones included.
func teardown() {
	if stopTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := stopTelemetry(ctx); err != nil && logger != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
		cancel()
		stopTelemetry = nil
	}
	if logger != nil {
		_ = logger.Close()
	}
}

func openStore() (*store.DB, error) {
	db, err := store.Open(cfg.Store.Path, store.WithLogger(logger.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}
	return db, nil
}

// services is the reconcile and publish stack over one store.
type services struct {
	db          *store.DB
	dispatcher  *reconcile.Dispatcher
	interceptor *publish.Interceptor
	studio      *publish.Studio
}

func newServices(db *store.DB, opts ...publish.Option) *services {
	l := logger.Logger
	dispatcher := reconcile.NewDispatcher(reconcile.DefaultRoutes(db, l, cfg.Reconcile.FanOut), l)

	pubCfg := publish.Config{
		WatchTypes: cfg.PublishTypes(),
		Visibility: cfg.Publish.Visibility,
	}
	opts = append([]publish.Option{
		publish.WithLogger(l),
		publish.WithSyncWorks(reconcile.NewDirectorWorks(db, l)),
	}, opts...)
	interceptor := publish.NewInterceptor(db, dispatcher, pubCfg, opts...)

	return &services{
		db:          db,
		dispatcher:  dispatcher,
		interceptor: interceptor,
		studio:      publish.NewStudio(db, interceptor),
	}
}

func main() {
	err := rootCmd.Execute()
	teardown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
