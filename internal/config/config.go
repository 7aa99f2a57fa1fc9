// Package config loads the application configuration.
//
// Precedence, highest first: runtime overrides, environment variables
// (DRAFTFORGE_ prefix), config file, defaults. All paths default to
// subdirectories of the per-user application data directory.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	appName   = "draftforge"
	envPrefix = "DRAFTFORGE"
)

// Config is the resolved application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Store    StoreConfig    `mapstructure:"store"`
	Resolver ResolverConfig `mapstructure:"resolver"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

type WorkerConfig struct {
	// Max is the ceiling on workers per job.
	Max int `mapstructure:"max"`

	// Default is used when the job requests no explicit count.
	Default int `mapstructure:"default"`

	// RateLimit caps drafts started per second. Zero is unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`
}

type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	UploadDir  string `mapstructure:"upload_dir"`
	LogDir     string `mapstructure:"log_dir"`
	DraftsRoot string `mapstructure:"drafts_root"`
	LedgerPath string `mapstructure:"ledger_path"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type ResolverConfig struct {
	// StartTolerance is how far before a job's recorded start a log
	// file's mtime may fall and still count as this job's run.
	StartTolerance time.Duration `mapstructure:"start_tolerance"`
}

// Load resolves the configuration. Later override maps win over
// earlier ones, and all overrides win over environment and defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	v.AddConfigPath(gfconfig.GetAppDataDir(appName))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Overrides go through Set so they outrank environment variables.
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyPathDefaults()
	return &cfg, nil
}

// applyPathDefaults fills path fields left empty relative to DataDir.
func (c *Config) applyPathDefaults() {
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = gfconfig.GetAppDataDir(appName)
	}
	if c.Paths.UploadDir == "" {
		c.Paths.UploadDir = filepath.Join(c.Paths.DataDir, "uploads")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.DraftsRoot == "" {
		c.Paths.DraftsRoot = filepath.Join(c.Paths.DataDir, "drafts")
	}
	if c.Paths.LedgerPath == "" {
		c.Paths.LedgerPath = filepath.Join(c.Paths.DataDir, "jobs.json")
	}
	if c.Store.Path == "" && c.Store.URL == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, "drafts.db")
	}
}

// applyOverrides flattens nested maps into dotted keys.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, value)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.verbose", false)

	v.SetDefault("worker.max", 4)
	v.SetDefault("worker.default", 1)
	v.SetDefault("worker.rate_limit", 0.0)

	v.SetDefault("resolver.start_tolerance", "60s")
}
