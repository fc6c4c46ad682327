package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Lincsquery LincsqueryConfig `yaml:"lincsquery"`
	Client     ClientConfig     `yaml:"client"`
	Export     ExportConfig     `yaml:"export"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LincsqueryConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ClientConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	MinLimit       int                  `yaml:"min_limit"`
	MaxLimit       int                  `yaml:"max_limit"`
	DefaultLimit   int                  `yaml:"default_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ExportConfig struct {
	Directory string        `yaml:"directory"`
	Parquet   ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	PageSize    int    `yaml:"page_size"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	QueryHistory    int           `yaml:"query_history"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

// Default returns a configuration that works without a config file. The
// one-shot CLI mode relies on these values when no file is present.
func Default() *Config {
	return &Config{
		Lincsquery: LincsqueryConfig{
			Name:    "lincsquery",
			Version: "dev",
		},
		Client: ClientConfig{
			BaseURL:      "https://lincs-reverse-search-dashboard.dev.maayanlab.cloud/api/table",
			Timeout:      30 * time.Second,
			MinLimit:     10,
			MaxLimit:     10000,
			DefaultLimit: 1000,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         2 * time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         5,
			},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Export: ExportConfig{
			Directory: ".",
			Parquet: ParquetConfig{
				Enabled:     true,
				Compression: "snappy",
				PageSize:    8 * 1024,
			},
		},
		Dashboard: DashboardConfig{
			Enabled:         false,
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      500,
			MetricsHistory:  720,
			QueryHistory:    100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := *Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override upstream endpoint from the environment if set
	if v := os.Getenv("LINCS_BASE_URL"); v != "" {
		config.Client.BaseURL = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Lincsquery.Name == "" {
		return fmt.Errorf("lincsquery.name is required")
	}

	if cfg.Lincsquery.Version == "" {
		return fmt.Errorf("lincsquery.version is required")
	}

	if cfg.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url is required")
	}

	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be greater than 0")
	}

	if cfg.Client.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("client.retry.max_attempts must be greater than 0")
	}
	if cfg.Client.Retry.BaseDelay <= 0 {
		return fmt.Errorf("client.retry.base_delay must be greater than 0")
	}
	if cfg.Client.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("client.retry.backoff_multiplier must be at least 1")
	}

	if cfg.Client.MinLimit <= 0 {
		return fmt.Errorf("client.min_limit must be greater than 0")
	}
	if cfg.Client.MaxLimit < cfg.Client.MinLimit {
		return fmt.Errorf("client.max_limit must be at least client.min_limit")
	}
	if cfg.Client.DefaultLimit < cfg.Client.MinLimit || cfg.Client.DefaultLimit > cfg.Client.MaxLimit {
		return fmt.Errorf("client.default_limit must be between client.min_limit and client.max_limit")
	}

	if cfg.Dashboard.Enabled {
		if cfg.Dashboard.Address == "" {
			return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
		}
		if cfg.Dashboard.LogHistory <= 0 || cfg.Dashboard.MetricsHistory <= 0 || cfg.Dashboard.QueryHistory <= 0 {
			return fmt.Errorf("dashboard history sizes must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
