// Package config loads refsync settings from refsync.toml, REFSYNC_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/telemetry"
)

const (
	// FileName is the config file searched for, without its extension.
	FileName = "refsync"

	// EnvPrefix prefixes environment overrides: REFSYNC_STORE_PATH sets
	// store.path.
	EnvPrefix = "REFSYNC"
)

// Config is the full refsync configuration.
type Config struct {
	Store     StoreConfig      `mapstructure:"store"`
	Publish   PublishConfig    `mapstructure:"publish"`
	Reconcile ReconcileConfig  `mapstructure:"reconcile"`
	Daemon    DaemonConfig     `mapstructure:"daemon"`
	Dashboard DashboardConfig  `mapstructure:"dashboard"`
	Log       LogConfig        `mapstructure:"log"`
	Trace     telemetry.Config `mapstructure:"trace"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type PublishConfig struct {
	WatchTypes []string           `mapstructure:"watch_types" validate:"dive,oneof=director directorWork project service subService"`
	Visibility publish.Visibility `mapstructure:"visibility"`
}

type ReconcileConfig struct {
	FanOut int `mapstructure:"fan_out" validate:"min=1,max=64"`
}

type DaemonConfig struct {
	Workers   int           `mapstructure:"workers" validate:"min=1,max=256"`
	Debounce  time.Duration `mapstructure:"debounce" validate:"gte=0"`
	QueueSize int           `mapstructure:"queue_size" validate:"min=1"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	vis := publish.DefaultVisibility()
	tr := telemetry.DefaultConfig()
	types := make([]string, 0, len(schema.SyncedTypes))
	for _, t := range schema.SyncedTypes {
		types = append(types, string(t))
	}
	return map[string]any{
		"store.path":                          filepath.Join(".refsync", "content.db"),
		"publish.watch_types":                 types,
		"publish.visibility.initial_interval": vis.InitialInterval.String(),
		"publish.visibility.max_interval":     vis.MaxInterval.String(),
		"publish.visibility.max_elapsed":      vis.MaxElapsed.String(),
		"reconcile.fan_out":                   4,
		"daemon.workers":                      4,
		"daemon.debounce":                     "100ms",
		"daemon.queue_size":                   1024,
		"dashboard.port":                      8080,
		"log.level":                           "info",
		"log.file":                            "",
		"log.max_size_mb":                     10,
		"log.max_backups":                     3,
		"trace.enabled":                       tr.Enabled,
		"trace.exporter":                      tr.Exporter,
		"trace.endpoint":                      tr.Endpoint,
		"trace.insecure":                      tr.Insecure,
		"trace.sample_ratio":                  tr.SampleRatio,
	}
}

// New returns a viper instance with defaults, env binding and the config
// search path set. An explicit path overrides the search.
func New(path string) *viper.Viper {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	v.SetConfigName(FileName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "refsync"))
	}
	return v
}

// Read loads the config file into v. A missing file is not an error when
// the search path was used.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("error reading config: %w", err)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New, Read and Decode in one step.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New(path)
	if err := Read(v); err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PublishTypes converts the watched type names.
func (c *Config) PublishTypes() []schema.Type {
	types := make([]schema.Type, len(c.Publish.WatchTypes))
	for i, t := range c.Publish.WatchTypes {
		types[i] = schema.Type(t)
	}
	return types
}
