package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the argus service.
type Config struct {
	API struct {
		Port int    `mapstructure:"port"`
		Host string `mapstructure:"host"`
	} `mapstructure:"api"`

	Engine struct {
		ChannelBufferSize int `mapstructure:"channel_buffer_size"`
		WorkerCount       int `mapstructure:"worker_count"`
		DispatchQueueSize int `mapstructure:"dispatch_queue_size"`
		// RateLimit is the sustained ingest rate (events/second) accepted
		// by the HTTP listener.
		RateLimit int `mapstructure:"rate_limit"`
	} `mapstructure:"engine"`

	Windows struct {
		// SweepInterval is how often the background eviction pass runs.
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		// MaxKeysPerRule bounds memory under key-spray attacks; the
		// oldest-idle key is evicted first when exceeded.
		MaxKeysPerRule int `mapstructure:"max_keys_per_rule"`
	} `mapstructure:"windows"`

	Rules struct {
		BruteForce struct {
			Window    time.Duration `mapstructure:"window"`
			Threshold int           `mapstructure:"threshold"`
		} `mapstructure:"brute_force"`
		PortScan struct {
			Window    time.Duration `mapstructure:"window"`
			Threshold int           `mapstructure:"threshold"`
		} `mapstructure:"port_scan"`
		// PatternCooldown is the cool-down applied to stateless pattern
		// rules, which have no window of their own.
		PatternCooldown time.Duration `mapstructure:"pattern_cooldown"`
	} `mapstructure:"rules"`

	Dedup struct {
		// CooldownMultiplier scales the retention of dedup entries: an
		// entry with no firing for cooldown*multiplier is evicted.
		CooldownMultiplier int `mapstructure:"cooldown_multiplier"`
		MaxEntries         int `mapstructure:"max_entries"`
	} `mapstructure:"dedup"`

	Storage struct {
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Notify struct {
		WebhookURL  string `mapstructure:"webhook_url"`
		MinSeverity string `mapstructure:"min_severity"`
	} `mapstructure:"notify"`
}

// LoadConfig reads configuration from config.yaml and ARGUS_* environment
// variables, applying defaults for anything unset.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.host", "0.0.0.0")

	viper.SetDefault("engine.channel_buffer_size", 1000)
	viper.SetDefault("engine.worker_count", 4)
	viper.SetDefault("engine.dispatch_queue_size", 256)
	viper.SetDefault("engine.rate_limit", 1000)

	viper.SetDefault("windows.sweep_interval", 30*time.Second)
	viper.SetDefault("windows.max_keys_per_rule", 10000)

	viper.SetDefault("rules.brute_force.window", 60*time.Second)
	viper.SetDefault("rules.brute_force.threshold", 5)
	viper.SetDefault("rules.port_scan.window", 120*time.Second)
	viper.SetDefault("rules.port_scan.threshold", 10)
	viper.SetDefault("rules.pattern_cooldown", 60*time.Second)

	viper.SetDefault("dedup.cooldown_multiplier", 3)
	viper.SetDefault("dedup.max_entries", 10000)

	viper.SetDefault("storage.sqlite_path", "./data/argus.db")

	viper.SetDefault("notify.webhook_url", "")
	viper.SetDefault("notify.min_severity", "LOW")
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port: %d", c.API.Port)
	}
	if c.Engine.WorkerCount < 1 {
		return fmt.Errorf("engine.worker_count must be at least 1, got %d", c.Engine.WorkerCount)
	}
	if c.Engine.ChannelBufferSize < 1 {
		return fmt.Errorf("engine.channel_buffer_size must be at least 1, got %d", c.Engine.ChannelBufferSize)
	}
	if c.Windows.MaxKeysPerRule < 1 {
		return fmt.Errorf("windows.max_keys_per_rule must be at least 1, got %d", c.Windows.MaxKeysPerRule)
	}
	if c.Windows.SweepInterval <= 0 {
		return fmt.Errorf("windows.sweep_interval must be positive, got %s", c.Windows.SweepInterval)
	}
	if c.Rules.BruteForce.Window <= 0 || c.Rules.PortScan.Window <= 0 {
		return fmt.Errorf("rule windows must be positive")
	}
	if c.Rules.BruteForce.Threshold < 1 || c.Rules.PortScan.Threshold < 1 {
		return fmt.Errorf("rule thresholds must be at least 1")
	}
	if c.Dedup.CooldownMultiplier < 1 {
		return fmt.Errorf("dedup.cooldown_multiplier must be at least 1, got %d", c.Dedup.CooldownMultiplier)
	}
	switch c.Notify.MinSeverity {
	case "", "LOW", "MEDIUM", "HIGH":
	default:
		return fmt.Errorf("invalid notify.min_severity: %q", c.Notify.MinSeverity)
	}
	return nil
}
