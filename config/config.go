package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Heatmap    HeatmapConfig    `yaml:"heatmap"`
	Source     SourceConfig     `yaml:"source"`
	Reader     ReaderConfig     `yaml:"reader"`
	Export     ExportConfig     `yaml:"export"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// HeatmapConfig controls what is aggregated and how the grid is drawn.
// Mode selects the cell unit: "notional" sums amount*price in units of the
// underlying asset (Deribit quotes option premium in the underlying);
// "net_contracts" sums signed contract amounts, sells counted negative.
type HeatmapConfig struct {
	Asset          string `yaml:"asset"`
	LookbackHours  int    `yaml:"lookback_hours"`
	Mode           string `yaml:"mode"`
	Annotate       bool   `yaml:"annotate"`
	MarkIndexPrice bool   `yaml:"mark_index_price"`
	OutputDir      string `yaml:"output_dir"`
	WidthPx        int    `yaml:"width_px"`
	HeightPx       int    `yaml:"height_px"`
}

type SourceConfig struct {
	Deribit DeribitSourceConfig `yaml:"deribit"`
}

type DeribitSourceConfig struct {
	HistoryURL     string               `yaml:"history_url"`
	IndexURL       string               `yaml:"index_url"`
	PageSize       int                  `yaml:"page_size"`
	IncludeOld     bool                 `yaml:"include_old"`
	UserAgent      string               `yaml:"user_agent"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns      int `yaml:"max_idle_conns"`
	MaxConnsPerHost   int `yaml:"max_conns_per_host"`
	IdleConnTimeoutMs int `yaml:"idle_conn_timeout_ms"`
}

type ReaderConfig struct {
	TimeoutMs int             `yaml:"timeout_ms"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	BaseDelayMs       int `yaml:"base_delay_ms"`
	MaxDelayMs        int `yaml:"max_delay_ms"`
	BackoffMultiplier int `yaml:"backoff_multiplier"`
}

type ExportConfig struct {
	Parquet ParquetExportConfig `yaml:"parquet"`
}

type ParquetExportConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
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

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Aggregation modes accepted in heatmap.mode.
const (
	ModeNotional     = "notional"
	ModeNetContracts = "net_contracts"
)

// SupportedAsset reports whether the asset symbol is one the Deribit
// history endpoint serves option trades for.
func SupportedAsset(asset string) bool {
	switch strings.ToUpper(asset) {
	case "BTC", "ETH":
		return true
	default:
		return false
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Heatmap: HeatmapConfig{
			Mode:           ModeNotional,
			Annotate:       true,
			MarkIndexPrice: true,
			OutputDir:      ".",
			WidthPx:        1600,
			HeightPx:       1200,
		},
		Source: SourceConfig{
			Deribit: DeribitSourceConfig{
				HistoryURL: "https://history.deribit.com/api/v2/public/get_last_trades_by_currency",
				IndexURL:   "https://www.deribit.com/api/v2/public/get_index_price",
				PageSize:   1000,
				IncludeOld: true,
			},
		},
		Reader: ReaderConfig{
			TimeoutMs: 10000,
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
			Retry:     RetryConfig{MaxAttempts: 3, BaseDelayMs: 500, MaxDelayMs: 5000, BackoffMultiplier: 2},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Heatmap.Asset = strings.ToUpper(strings.TrimSpace(config.Heatmap.Asset))

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

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Optionflow.Name == "" {
		return fmt.Errorf("optionflow.name is required")
	}
	if cfg.Optionflow.Version == "" {
		return fmt.Errorf("optionflow.version is required")
	}

	if !SupportedAsset(cfg.Heatmap.Asset) {
		return fmt.Errorf("heatmap.asset '%s' is not supported (expected BTC or ETH)", cfg.Heatmap.Asset)
	}
	if cfg.Heatmap.LookbackHours <= 0 {
		return fmt.Errorf("heatmap.lookback_hours must be greater than 0")
	}
	switch cfg.Heatmap.Mode {
	case ModeNotional, ModeNetContracts:
	default:
		return fmt.Errorf("heatmap.mode '%s' is invalid (expected %s or %s)", cfg.Heatmap.Mode, ModeNotional, ModeNetContracts)
	}
	if cfg.Heatmap.WidthPx <= 0 || cfg.Heatmap.HeightPx <= 0 {
		return fmt.Errorf("heatmap.width_px and heatmap.height_px must be greater than 0")
	}

	if cfg.Source.Deribit.PageSize <= 0 || cfg.Source.Deribit.PageSize > 10000 {
		return fmt.Errorf("source.deribit.page_size must be between 1 and 10000")
	}
	for _, u := range []string{cfg.Source.Deribit.HistoryURL, cfg.Source.Deribit.IndexURL} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("source.deribit url '%s' is invalid", u)
		}
	}

	if cfg.Reader.TimeoutMs <= 0 {
		return fmt.Errorf("reader.timeout_ms must be greater than 0")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}

	if cfg.Export.Parquet.Enabled && cfg.Export.Parquet.Dir == "" {
		return fmt.Errorf("export.parquet.dir is required when parquet export is enabled")
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
