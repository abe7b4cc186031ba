package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends accepted by server.backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Sync   SyncConfig   `yaml:"sync"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
	Backup BackupConfig `yaml:"backup"`
}

// ServerConfig contains settings for the remote store server.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Backend         string   `yaml:"backend"`
	DBPath          string   `yaml:"db_path"`
	PostgresDSN     string   `yaml:"-"` // env-only, carries credentials
}

// ClientConfig contains settings for the offline cache.
type ClientConfig struct {
	LocalPath  string `yaml:"local_path"`
	RemoteURL  string `yaml:"remote_url"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// SyncConfig contains sync timing settings.
type SyncConfig struct {
	Interval      Duration `yaml:"interval"`
	Debounce      Duration `yaml:"debounce"`
	RemoteTimeout Duration `yaml:"remote_timeout"`
	ProbeInterval Duration `yaml:"probe_interval"`
	RetryCeiling  int      `yaml:"retry_ceiling"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings. When File is set, output goes to a
// rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// BackupConfig controls database snapshots. Snapshots are written to Dir
// and, when Bucket is set, uploaded to S3-compatible storage. An Interval
// of zero disables the server's periodic backups.
type BackupConfig struct {
	Interval  Duration      `yaml:"interval"`
	Dir       string        `yaml:"dir"`
	Storage   StorageConfig `yaml:"storage"`
	URLExpiry Duration      `yaml:"url_expiry"`
}

// StorageConfig locates the S3-compatible bucket for backups.
type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
}

// LocalOnly reports whether no remote is configured.
func (c *Config) LocalOnly() bool {
	return c.Client.RemoteURL == ""
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LABSYNC_CONFIG_PATH", "config/labsync.yaml")

	// Missing file is not an error.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			Backend:         BackendSQLite,
			DBPath:          "data/labsync-remote.db",
		},
		Client: ClientConfig{
			LocalPath:  "data/labsync-local.db",
			BcryptCost: 10,
		},
		Sync: SyncConfig{
			Interval:      Duration(30 * time.Second),
			Debounce:      Duration(500 * time.Millisecond),
			RemoteTimeout: Duration(15 * time.Second),
			ProbeInterval: Duration(10 * time.Second),
			RetryCeiling:  3,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Backup: BackupConfig{
			Interval:  Duration(6 * time.Hour),
			Dir:       "data/backups",
			URLExpiry: Duration(15 * time.Minute),
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("LABSYNC_PORT", &cfg.Server.Port)
	envDuration("LABSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LABSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LABSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("LABSYNC_BACKEND", &cfg.Server.Backend)
	envString("LABSYNC_DB_PATH", &cfg.Server.DBPath)
	envString("LABSYNC_POSTGRES_DSN", &cfg.Server.PostgresDSN)

	// Client
	envString("LABSYNC_LOCAL_PATH", &cfg.Client.LocalPath)
	envString("LABSYNC_REMOTE_URL", &cfg.Client.RemoteURL)
	envInt("LABSYNC_BCRYPT_COST", &cfg.Client.BcryptCost)

	// Sync
	envDuration("LABSYNC_SYNC_INTERVAL", &cfg.Sync.Interval)
	envDuration("LABSYNC_SYNC_DEBOUNCE", &cfg.Sync.Debounce)
	envDuration("LABSYNC_REMOTE_TIMEOUT", &cfg.Sync.RemoteTimeout)
	envDuration("LABSYNC_PROBE_INTERVAL", &cfg.Sync.ProbeInterval)
	envInt("LABSYNC_RETRY_CEILING", &cfg.Sync.RetryCeiling)

	// Auth
	envString("LABSYNC_API_KEY", &cfg.Auth.APIKey)

	// Log
	envString("LABSYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("LABSYNC_LOG_FORMAT", &cfg.Log.Format)
	envString("LABSYNC_LOG_FILE", &cfg.Log.File)

	// Backup
	envDuration("LABSYNC_BACKUP_INTERVAL", &cfg.Backup.Interval)
	envString("LABSYNC_BACKUP_DIR", &cfg.Backup.Dir)
	envString("LABSYNC_S3_BUCKET", &cfg.Backup.Storage.Bucket)
	envString("LABSYNC_S3_PREFIX", &cfg.Backup.Storage.Prefix)
	envString("LABSYNC_S3_ENDPOINT", &cfg.Backup.Storage.Endpoint)
	envString("LABSYNC_S3_REGION", &cfg.Backup.Storage.Region)
	envString("LABSYNC_S3_ACCESS_KEY", &cfg.Backup.Storage.AccessKey)
	envString("LABSYNC_S3_SECRET_KEY", &cfg.Backup.Storage.SecretKey)
	if v := os.Getenv("LABSYNC_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backup.Storage.UseSSL = &b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks settings every command depends on.
func (c *Config) validate() error {
	var errs []error
	switch c.Server.Backend {
	case BackendSQLite, BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("server.backend must be one of sqlite, postgres, memory; got %q", c.Server.Backend))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text; got %q", c.Log.Format))
	}
	if c.Sync.RetryCeiling < 1 {
		errs = append(errs, errors.New("sync.retry_ceiling must be at least 1"))
	}
	if c.Client.BcryptCost < 4 || c.Client.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("client.bcrypt_cost must be between 4 and 31; got %d", c.Client.BcryptCost))
	}
	if c.Backup.Interval < 0 {
		errs = append(errs, errors.New("backup.interval must not be negative"))
	}
	if c.Backup.Storage.Bucket != "" && c.Backup.Storage.Endpoint == "" {
		errs = append(errs, errors.New("backup.storage.endpoint is required when a bucket is set"))
	}
	for name, d := range map[string]Duration{
		"backup.url_expiry":   c.Backup.URLExpiry,
		"sync.interval":       c.Sync.Interval,
		"sync.debounce":       c.Sync.Debounce,
		"sync.remote_timeout": c.Sync.RemoteTimeout,
		"sync.probe_interval": c.Sync.ProbeInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// ValidateServe checks the settings the server needs. In dev mode
// (LABSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServe() error {
	if c.Server.Backend == BackendPostgres && c.Server.PostgresDSN == "" {
		return errors.New("LABSYNC_POSTGRES_DSN is required for the postgres backend")
	}
	if os.Getenv("LABSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("LABSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
