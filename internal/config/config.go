package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	UserUID string        `mapstructure:"user_uid"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type SyncConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	RecurringInterval time.Duration `mapstructure:"recurring_interval"`
	PushLimit         int           `mapstructure:"push_limit"`
	PullPageSize      int           `mapstructure:"pull_page_size"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (FINSYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (FINSYNC_*)
	v.SetEnvPrefix("FINSYNC")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
