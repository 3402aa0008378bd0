package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the photo synchronizer
type Config struct {
	// Remote API access
	API APIConfig `yaml:"api" json:"api"`

	// HTML fallback used to patch counters
	Fallback FallbackConfig `yaml:"fallback" json:"fallback"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry configuration for page fetches
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Local store
	Store StoreConfig `yaml:"store" json:"store"`

	// Synchronization settings
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig holds remote API configuration
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url" env:"VKPHOTOS_API_URL"`
	Version     string        `yaml:"version" json:"version" env:"VKPHOTOS_API_VERSION"`
	AccessToken string        `yaml:"access_token" json:"access_token" env:"VKPHOTOS_ACCESS_TOKEN"`
	Lang        string        `yaml:"lang" json:"lang" env:"VKPHOTOS_API_LANG"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" env:"VKPHOTOS_API_TIMEOUT"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent" env:"VKPHOTOS_USER_AGENT"`
}

// FallbackConfig holds configuration of the HTML counter fallback
type FallbackConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" env:"VKPHOTOS_FALLBACK_ENABLED"`
	BaseURL string        `yaml:"base_url" json:"base_url" env:"VKPHOTOS_FALLBACK_URL"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"VKPHOTOS_FALLBACK_TIMEOUT"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" env:"VKPHOTOS_REQUESTS_PER_MINUTE"`
	BurstSize         int `yaml:"burst_size" json:"burst_size" env:"VKPHOTOS_BURST_SIZE"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" env:"VKPHOTOS_RETRY_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor   float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// StoreConfig selects and configures the local store
type StoreConfig struct {
	// Driver is one of memory, sqlite, mysql
	Driver string `yaml:"driver" json:"driver" env:"VKPHOTOS_STORE_DRIVER"`
	// Path is the SQLite database file
	Path string `yaml:"path" json:"path" env:"VKPHOTOS_STORE_PATH"`
	// DSN is the MySQL data source name
	DSN string `yaml:"dsn" json:"dsn" env:"VKPHOTOS_STORE_DSN"`
}

// SyncConfig holds synchronization settings
type SyncConfig struct {
	PageSize            int           `yaml:"page_size" json:"page_size" env:"VKPHOTOS_PAGE_SIZE"`
	LikesPageSize       int           `yaml:"likes_page_size" json:"likes_page_size" env:"VKPHOTOS_LIKES_PAGE_SIZE"`
	ConcurrentAlbums    int           `yaml:"concurrent_albums" json:"concurrent_albums" env:"VKPHOTOS_CONCURRENT_ALBUMS"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout" env:"VKPHOTOS_SYNC_TIMEOUT"`
	UseFallbackCounters bool          `yaml:"use_fallback_counters" json:"use_fallback_counters" env:"VKPHOTOS_USE_FALLBACK_COUNTERS"`
	CheckpointDir       string        `yaml:"checkpoint_dir" json:"checkpoint_dir" env:"VKPHOTOS_CHECKPOINT_DIR"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" env:"VKPHOTOS_LOG_LEVEL"`
	File       string `yaml:"file" json:"file" env:"VKPHOTOS_LOG_FILE"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://api.vk.com/method",
			Version: "5.131",
			Lang:    "en",
			Timeout: 30 * time.Second,
		},
		Fallback: FallbackConfig{
			Enabled: false,
			BaseURL: "https://vk.com",
			Timeout: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 180,
			BurstSize:         3,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			JitterFactor:   0.1,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "vkphotos.db",
		},
		Sync: SyncConfig{
			PageSize:         100,
			LikesPageSize:    1000,
			ConcurrentAlbums: 3,
			Timeout:          0, // 0 means no limit
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv overlays VKPHOTOS_* environment variables onto c. Unset
// variables leave the current values alone.
func (c *Config) LoadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("invalid environment configuration: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"vkphotos.yaml",
		".vkphotos.yaml",
		".vkphotos.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "vkphotos", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".vkphotos.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. The access token is not
// checked here because it may come from the credential store.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("API base URL is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("API timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, errors.New("retry max attempts must be between 1 and 10"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("sqlite store path is required"))
		}
	case "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("mysql store DSN is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 1000 {
		errs = append(errs, errors.New("page size must be between 1 and 1000"))
	}
	if c.Sync.LikesPageSize <= 0 || c.Sync.LikesPageSize > 1000 {
		errs = append(errs, errors.New("likes page size must be between 1 and 1000"))
	}
	if c.Sync.ConcurrentAlbums <= 0 || c.Sync.ConcurrentAlbums > 10 {
		errs = append(errs, errors.New("concurrent albums must be between 1 and 10"))
	}
	if c.Sync.Timeout < 0 {
		errs = append(errs, errors.New("sync timeout cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["access-token"].(string); ok && token != "" {
		c.API.AccessToken = token
	}
	if driver, ok := flags["store-driver"].(string); ok && driver != "" {
		c.Store.Driver = driver
	}
	if path, ok := flags["store-path"].(string); ok && path != "" {
		c.Store.Path = path
	}
	if dsn, ok := flags["store-dsn"].(string); ok && dsn != "" {
		c.Store.DSN = dsn
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Sync.PageSize = pageSize
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Sync.ConcurrentAlbums = concurrent
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if attempts, ok := flags["max-attempts"].(int); ok && attempts > 0 {
		c.Retry.MaxAttempts = attempts
	}
	if timeout, ok := flags["timeout"].(time.Duration); ok && timeout > 0 {
		c.Sync.Timeout = timeout
	}
	if fallback, ok := flags["fallback"].(bool); ok {
		c.Fallback.Enabled = fallback
		c.Sync.UseFallbackCounters = fallback
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".vkphotos.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
