// Package config loads and validates watcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Targets []TargetConfig `mapstructure:"targets"`
	Check   CheckConfig    `mapstructure:"check"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Store   StoreConfig    `mapstructure:"store"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// TargetConfig is one watched URL+filter combination.
type TargetConfig struct {
	URL         string `mapstructure:"url"`
	Description string `mapstructure:"description"`
}

// CheckConfig governs run-wide pipeline behavior.
type CheckConfig struct {
	Parallelism    int  `mapstructure:"parallelism"`
	Noisy          bool `mapstructure:"noisy"`
	ReportRemovals bool `mapstructure:"report_removals"`
}

// FetchConfig configures the headless page fetcher.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	SettleSeconds  int     `mapstructure:"settle_seconds"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	HostQPS        float64 `mapstructure:"host_qps"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// StoreConfig controls access to the known-state store.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// NotifyConfig selects and configures the notification channel.
type NotifyConfig struct {
	Provider        string       `mapstructure:"provider"`
	SlackWebhookURL string       `mapstructure:"slack_webhook_url"`
	PubSub          PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for the Pub/Sub notification channel.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ArchiveConfig controls where broken-page snapshots land.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// MetricsConfig controls the optional Pushgateway push.
type MetricsConfig struct {
	PushGateway string `mapstructure:"push_gateway"`
	Job         string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RCWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check.parallelism", 4)
	v.SetDefault("check.noisy", false)
	v.SetDefault("check.report_removals", false)
	v.SetDefault("fetch.timeout_seconds", 45)
	v.SetDefault("fetch.settle_seconds", 3)
	v.SetDefault("fetch.max_parallel", 2)
	v.SetDefault("fetch.host_qps", 0.5)
	v.SetDefault("fetch.user_agent", "rcwatch/1.0")
	v.SetDefault("store.provider", "postgres")
	v.SetDefault("store.table", "rc_check")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("notify.provider", "slack")
	v.SetDefault("archive.provider", "fs")
	v.SetDefault("archive.dir", "data/snapshots")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.max_bytes", 5*1024*1024)
	v.SetDefault("metrics.job", "rcwatch")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	for i, t := range c.Targets {
		if t.URL == "" {
			return fmt.Errorf("targets[%d].url is required", i)
		}
	}
	if c.Check.Parallelism <= 0 {
		return fmt.Errorf("check.parallelism must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Store.Provider {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	switch c.Notify.Provider {
	case "slack":
		if c.Notify.SlackWebhookURL == "" {
			return fmt.Errorf("notify.slack_webhook_url is required when notify.provider is slack")
		}
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "" {
			return fmt.Errorf("notify.pubsub.project_id and topic_id are required when notify.provider is pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	switch c.Archive.Provider {
	case "fs", "noop":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	return nil
}

// WatchTargets converts the configured targets into core watch targets.
func (c Config) WatchTargets() []watch.Target {
	targets := make([]watch.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, watch.Target{URL: t.URL, Description: t.Description})
	}
	return targets
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchSettle returns the post-load settle period as a duration.
func (c Config) FetchSettle() time.Duration {
	return time.Duration(c.Fetch.SettleSeconds) * time.Second
}
