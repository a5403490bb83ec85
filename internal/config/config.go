// Package config provides centralized configuration management for the OHLCV
// ingest engine. Configuration is layered: defaults, then a JSON or TOML file,
// then a .env file, then OHLCV_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "OHLCV_"

// Provider names understood by the provider factory.
const (
	ProviderYahoo   = "yahoo"
	ProviderAlpaca  = "alpaca"
	ProviderPolygon = "polygon"
	ProviderTiingo  = "tiingo"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" toml:"app_name"`
	Version    string `json:"version" toml:"version"`
	ConfigPath string `json:"-" toml:"-"`

	Storage       StorageConfig       `json:"storage" toml:"storage"`
	Providers     []ProviderConfig    `json:"providers" toml:"providers"`
	Calendar      CalendarConfig      `json:"calendar" toml:"calendar"`
	Acquisition   AcquisitionConfig   `json:"acquisition" toml:"acquisition"`
	Logging       LoggingConfig       `json:"logging" toml:"logging"`
	Archive       ArchiveConfig       `json:"archive" toml:"archive"`
	Schedule      ScheduleConfig      `json:"schedule" toml:"schedule"`
	Metrics       MetricsConfig       `json:"metrics" toml:"metrics"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" toml:"error_handling"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type" toml:"type"`                   // "duckdb", "postgres", "memory"
	DatabaseURL  string `json:"database_url" toml:"database_url"`   // DuckDB file path or ":memory:"
	PostgresDSN  string `json:"postgres_dsn" toml:"postgres_dsn"`   // Postgres connection string
	MaxConns     int    `json:"max_conns" toml:"max_conns"`         // Maximum database connections (postgres)
	QueryTimeout string `json:"query_timeout" toml:"query_timeout"` // Query execution timeout
}

// ProviderConfig configures one entry of the provider chain. Order in
// AppConfig.Providers is fallback priority.
type ProviderConfig struct {
	Name           string `json:"name" toml:"name"`
	Enabled        bool   `json:"enabled" toml:"enabled"`
	APIKey         string `json:"api_key" toml:"api_key"`
	APISecret      string `json:"api_secret" toml:"api_secret"`
	BaseURL        string `json:"base_url" toml:"base_url"`
	Feed           string `json:"feed" toml:"feed"`                       // alpaca data feed (iex, sip)
	RateLimit      int    `json:"rate_limit" toml:"rate_limit"`           // requests per minute, 0 = unlimited
	Timeout        string `json:"timeout" toml:"timeout"`                 // per-request timeout
	CircuitBreaker bool   `json:"circuit_breaker" toml:"circuit_breaker"` // wrap with the shared breaker settings
}

// CalendarConfig configures the exchange calendar oracle
type CalendarConfig struct {
	DefaultExchange string `json:"default_exchange" toml:"default_exchange"`
}

// AcquisitionConfig configures the acquisition orchestrator
type AcquisitionConfig struct {
	Timeout           string `json:"timeout" toml:"timeout"`                         // overall deadline per EnsureData call
	UnobtainableTTL   string `json:"unobtainable_ttl" toml:"unobtainable_ttl"`       // "0" keeps negative cache forever
	MaxConcurrentKeys int    `json:"max_concurrent_keys" toml:"max_concurrent_keys"` // batch parallelism
	DefaultLimit      int    `json:"default_limit" toml:"default_limit"`
	MaxLimit          int    `json:"max_limit" toml:"max_limit"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" toml:"level"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" toml:"format"`           // Log format: json, text
	Output        string            `json:"output" toml:"output"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" toml:"file_path"`     // Log file path
	MaxSize       int               `json:"max_size" toml:"max_size"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" toml:"max_backups"` // Maximum log file backups
	MaxAge        int               `json:"max_age" toml:"max_age"`         // Maximum log file age in days
	Compress      bool              `json:"compress" toml:"compress"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields" toml:"context_fields"`
}

// ArchiveConfig configures uploads of exported files to S3-compatible storage
type ArchiveConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Endpoint  string `json:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" toml:"prefix"`
	UseSSL    bool   `json:"use_ssl" toml:"use_ssl"`
}

// ScheduleConfig configures the watch loop that keeps a watchlist current
type ScheduleConfig struct {
	Symbols      []string `json:"symbols" toml:"symbols"`
	Timeframes   []string `json:"timeframes" toml:"timeframes"`       // empty means 1d
	Lookback     string   `json:"lookback" toml:"lookback"`           // window re-checked on every run
	TickInterval string   `json:"tick_interval" toml:"tick_interval"` // how often due jobs are checked
	Settle       string   `json:"settle" toml:"settle"`               // wait after a bar ends before expecting it; empty or zero means one intraday step
}

// MetricsConfig configures the health and metrics HTTP endpoint of the watch loop
type MetricsConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Address string `json:"address" toml:"address"`
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy    RetryPolicyConfig            `json:"global_retry_policy" toml:"global_retry_policy"`
	ComponentPolicies    map[string]RetryPolicyConfig `json:"component_policies" toml:"component_policies"`
	CircuitBreakerConfig CircuitBreakerConfig         `json:"circuit_breaker_config" toml:"circuit_breaker_config"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" toml:"max_attempts"`         // Maximum attempts including the first
	InitialDelay    string   `json:"initial_delay" toml:"initial_delay"`       // Initial delay between retries
	MaxDelay        string   `json:"max_delay" toml:"max_delay"`               // Maximum delay between retries
	BackoffStrategy string   `json:"backoff_strategy" toml:"backoff_strategy"` // fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors" toml:"retryable_errors"` // Extra retryable error types
	Jitter          bool     `json:"jitter" toml:"jitter"`                     // Add randomness to delays
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold" toml:"failure_threshold"`   // Failures before the circuit opens
	RecoveryTimeout  string `json:"recovery_timeout" toml:"recovery_timeout"`     // Time before a half-open probe
	HalfOpenRequests int    `json:"half_open_requests" toml:"half_open_requests"` // Successful probes needed to close
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager. configPath may be
// empty; its extension selects JSON or TOML.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
	}
}

// SetEnvFile changes the dotenv file read by LoadConfig. Empty disables it.
func (cm *ConfigManager) SetEnvFile(path string) {
	cm.envFile = path
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables, including those set by the .env file (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig() (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"providers", strings.Join(config.EnabledProviderNames(), ","),
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or TOML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	// a providers list in the file replaces the default chain instead of extending it
	defaults := config.Providers
	config.Providers = nil

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	case ".json", "":
		err = json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(cm.configPath))
	}
	if config.Providers == nil {
		config.Providers = defaults
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFile exports variables from the dotenv file without overriding the
// real environment.
func (cm *ConfigManager) loadEnvFile() error {
	if cm.envFile == "" {
		return nil
	}
	if _, err := os.Stat(cm.envFile); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(cm.envFile); err != nil {
		return err
	}
	cm.logger.Debug("loaded environment file", "path", cm.envFile)
	return nil
}

func env(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

// loadFromEnv loads configuration from OHLCV_* environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var problems []string

	setInt := func(name string, dst *int) {
		if val, ok := env(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val, ok := env(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if val, ok := env(name); ok {
			*dst = val
		}
	}

	// Storage
	setString("STORAGE_TYPE", &config.Storage.Type)
	setString("DATABASE_URL", &config.Storage.DatabaseURL)
	setString("POSTGRES_DSN", &config.Storage.PostgresDSN)
	setInt("MAX_CONNS", &config.Storage.MaxConns)

	// Calendar
	setString("DEFAULT_EXCHANGE", &config.Calendar.DefaultExchange)

	// Acquisition
	setString("ACQUISITION_TIMEOUT", &config.Acquisition.Timeout)
	setString("UNOBTAINABLE_TTL", &config.Acquisition.UnobtainableTTL)
	setInt("MAX_CONCURRENT_KEYS", &config.Acquisition.MaxConcurrentKeys)

	// Providers: an explicit list reorders the chain and enables exactly those names
	if val, ok := env("PROVIDERS"); ok {
		config.Providers = reorderProviders(config.Providers, strings.Split(val, ","))
	}
	for i := range config.Providers {
		p := &config.Providers[i]
		prefix := strings.ToUpper(p.Name) + "_"
		setString(prefix+"API_KEY", &p.APIKey)
		setString(prefix+"API_SECRET", &p.APISecret)
		setString(prefix+"BASE_URL", &p.BaseURL)
		setString(prefix+"FEED", &p.Feed)
		setInt(prefix+"RATE_LIMIT", &p.RateLimit)
		setBool(prefix+"ENABLED", &p.Enabled)
	}

	// Logging
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Archive
	setBool("S3_ENABLED", &config.Archive.Enabled)
	setString("S3_ENDPOINT", &config.Archive.Endpoint)
	setString("S3_ACCESS_KEY", &config.Archive.AccessKey)
	setString("S3_SECRET_KEY", &config.Archive.SecretKey)
	setString("S3_BUCKET", &config.Archive.Bucket)
	setString("S3_PREFIX", &config.Archive.Prefix)
	setBool("S3_USE_SSL", &config.Archive.UseSSL)

	// Schedule and metrics
	if val, ok := env("WATCH_SYMBOLS"); ok {
		config.Schedule.Symbols = splitNames(val)
	}
	if val, ok := env("WATCH_TIMEFRAMES"); ok {
		config.Schedule.Timeframes = splitNames(val)
	}
	setString("WATCH_LOOKBACK", &config.Schedule.Lookback)
	setString("WATCH_SETTLE", &config.Schedule.Settle)
	setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	setString("METRICS_ADDRESS", &config.Metrics.Address)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

func splitNames(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// reorderProviders puts the named providers first, in order and enabled, and
// disables the rest. Unknown names get a default entry.
func reorderProviders(current []ProviderConfig, names []string) []ProviderConfig {
	byName := make(map[string]ProviderConfig, len(current))
	for _, p := range current {
		byName[p.Name] = p
	}

	out := make([]ProviderConfig, 0, len(current))
	seen := make(map[string]bool)
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, ok := byName[name]
		if !ok {
			p = ProviderConfig{Name: name, Timeout: "30s"}
		}
		p.Enabled = true
		out = append(out, p)
	}
	for _, p := range current {
		if seen[p.Name] {
			continue
		}
		p.Enabled = false
		out = append(out, p)
	}
	return out
}

// Validate checks the configuration for consistency and required fields,
// reporting every problem at once.
func (c *AppConfig) Validate() error {
	var problems []string

	switch c.Storage.Type {
	case "duckdb":
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for DuckDB storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for Postgres storage")
		}
	case "memory":
	case "":
		problems = append(problems, "storage.type is required")
	default:
		problems = append(problems, fmt.Sprintf("storage.type %q must be one of: duckdb, postgres, memory", c.Storage.Type))
	}

	enabled := 0
	names := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			problems = append(problems, field+".name is required")
			continue
		}
		if names[p.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate provider %q", field, p.Name))
		}
		names[p.Name] = true

		switch p.Name {
		case ProviderYahoo, ProviderAlpaca, ProviderPolygon, ProviderTiingo:
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown provider %q", field, p.Name))
		}
		if p.RateLimit < 0 {
			problems = append(problems, field+".rate_limit must not be negative")
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				problems = append(problems, fmt.Sprintf("%s.timeout is not a valid duration: %v", field, err))
			}
		}
		if !p.Enabled {
			continue
		}
		enabled++

		switch p.Name {
		case ProviderAlpaca:
			if p.APIKey == "" || p.APISecret == "" {
				problems = append(problems, "alpaca provider requires api_key and api_secret")
			}
		case ProviderPolygon, ProviderTiingo:
			if p.APIKey == "" {
				problems = append(problems, fmt.Sprintf("%s provider requires api_key", p.Name))
			}
		}
	}
	if enabled == 0 {
		problems = append(problems, "at least one provider must be enabled")
	}

	if c.Calendar.DefaultExchange == "" {
		problems = append(problems, "calendar.default_exchange is required")
	}

	if d, err := time.ParseDuration(c.Acquisition.Timeout); err != nil || d <= 0 {
		problems = append(problems, "acquisition.timeout must be a positive duration")
	}
	if c.Acquisition.UnobtainableTTL != "" {
		if d, err := time.ParseDuration(c.Acquisition.UnobtainableTTL); err != nil || d < 0 {
			problems = append(problems, "acquisition.unobtainable_ttl must be a non-negative duration")
		}
	}
	if c.Acquisition.MaxConcurrentKeys <= 0 {
		problems = append(problems, "acquisition.max_concurrent_keys must be greater than 0")
	}
	if c.Acquisition.DefaultLimit <= 0 || c.Acquisition.MaxLimit < c.Acquisition.DefaultLimit {
		problems = append(problems, "acquisition limits must satisfy 0 < default_limit <= max_limit")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		problems = append(problems, "logging.format must be one of: json, text")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		problems = append(problems, "logging.file_path is required when output is file")
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		problems = append(problems, "archive.endpoint and archive.bucket are required when archive is enabled")
	}

	if d, err := time.ParseDuration(c.Schedule.Lookback); err != nil || d <= 0 {
		problems = append(problems, "schedule.lookback must be a positive duration")
	}
	if d, err := time.ParseDuration(c.Schedule.TickInterval); err != nil || d <= 0 {
		problems = append(problems, "schedule.tick_interval must be a positive duration")
	}
	if c.Schedule.Settle != "" {
		if d, err := time.ParseDuration(c.Schedule.Settle); err != nil || d < 0 {
			problems = append(problems, "schedule.settle must be a non-negative duration")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		problems = append(problems, "metrics.address is required when metrics are enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults. Only the
// credential-free yahoo provider is enabled.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-ingest",
		Version: "1.0.0",
		Storage: StorageConfig{
			Type:         "duckdb",
			DatabaseURL:  "./data/ohlcv.duckdb",
			MaxConns:     4,
			QueryTimeout: "30s",
		},
		Providers: []ProviderConfig{
			{Name: ProviderYahoo, Enabled: true, Timeout: "30s", RateLimit: 60},
			{Name: ProviderAlpaca, Enabled: false, Timeout: "30s", Feed: "iex", RateLimit: 200},
			{Name: ProviderPolygon, Enabled: false, Timeout: "30s", RateLimit: 5, CircuitBreaker: true},
			{Name: ProviderTiingo, Enabled: false, Timeout: "30s", RateLimit: 50, CircuitBreaker: true},
		},
		Calendar: CalendarConfig{
			DefaultExchange: "NYSE",
		},
		Acquisition: AcquisitionConfig{
			Timeout:           "2m",
			UnobtainableTTL:   "0s",
			MaxConcurrentKeys: 4,
			DefaultLimit:      100,
			MaxLimit:          200,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-ingest",
			},
		},
		Archive: ArchiveConfig{
			Prefix: "ohlcv",
			UseSSL: true,
		},
		Schedule: ScheduleConfig{
			Lookback:     "168h",
			TickInterval: "1m",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "500ms",
				MaxDelay:        "10s",
				BackoffStrategy: "exponential",
				Jitter:          true,
			},
			ComponentPolicies: make(map[string]RetryPolicyConfig),
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  "30s",
				HalfOpenRequests: 1,
			},
		},
	}
}

// EnabledProviders returns the enabled providers in priority order.
func (c *AppConfig) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// EnabledProviderNames returns the names of EnabledProviders.
func (c *AppConfig) EnabledProviderNames() []string {
	var names []string
	for _, p := range c.EnabledProviders() {
		names = append(names, p.Name)
	}
	return names
}

// TimeoutDuration parses Timeout, returning 0 when unset or invalid.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	return parseDuration(p.Timeout)
}

// TimeoutDuration parses Timeout.
func (a AcquisitionConfig) TimeoutDuration() time.Duration {
	return parseDuration(a.Timeout)
}

// TTL parses UnobtainableTTL. Zero means unobtainable ranges never expire.
func (a AcquisitionConfig) TTL() time.Duration {
	return parseDuration(a.UnobtainableTTL)
}

// LookbackDuration parses Lookback.
func (s ScheduleConfig) LookbackDuration() time.Duration {
	return parseDuration(s.Lookback)
}

// SettleDuration parses Settle. It reports false when Settle is empty or
// invalid.
func (s ScheduleConfig) SettleDuration() (time.Duration, bool) {
	if s.Settle == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s.Settle)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// TickDuration parses TickInterval.
func (s ScheduleConfig) TickDuration() time.Duration {
	return parseDuration(s.TickInterval)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	sanitized.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = "[REDACTED]"
		}
		if p.APISecret != "" {
			p.APISecret = "[REDACTED]"
		}
		sanitized.Providers[i] = p
	}
	if sanitized.Storage.PostgresDSN != "" {
		sanitized.Storage.PostgresDSN = "[REDACTED]"
	}
	if sanitized.Archive.AccessKey != "" {
		sanitized.Archive.AccessKey = "[REDACTED]"
	}
	if sanitized.Archive.SecretKey != "" {
		sanitized.Archive.SecretKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
