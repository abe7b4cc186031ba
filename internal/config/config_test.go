package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// clearEnv blanks every config-related env var for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"LABSYNC_CONFIG_PATH",
		"LABSYNC_PORT",
		"LABSYNC_READ_TIMEOUT",
		"LABSYNC_WRITE_TIMEOUT",
		"LABSYNC_SHUTDOWN_TIMEOUT",
		"LABSYNC_BACKEND",
		"LABSYNC_DB_PATH",
		"LABSYNC_POSTGRES_DSN",
		"LABSYNC_LOCAL_PATH",
		"LABSYNC_REMOTE_URL",
		"LABSYNC_BCRYPT_COST",
		"LABSYNC_SYNC_INTERVAL",
		"LABSYNC_SYNC_DEBOUNCE",
		"LABSYNC_REMOTE_TIMEOUT",
		"LABSYNC_PROBE_INTERVAL",
		"LABSYNC_RETRY_CEILING",
		"LABSYNC_API_KEY",
		"LABSYNC_LOG_LEVEL",
		"LABSYNC_LOG_FORMAT",
		"LABSYNC_LOG_FILE",
		"LABSYNC_DEV_MODE",
		"LABSYNC_BACKUP_INTERVAL",
		"LABSYNC_BACKUP_DIR",
		"LABSYNC_S3_BUCKET",
		"LABSYNC_S3_PREFIX",
		"LABSYNC_S3_ENDPOINT",
		"LABSYNC_S3_REGION",
		"LABSYNC_S3_ACCESS_KEY",
		"LABSYNC_S3_SECRET_KEY",
		"LABSYNC_S3_USE_SSL",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
	// Point at a file that does not exist so a stray local config is ignored.
	t.Setenv("LABSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// dur converts Duration to time.Duration for comparison
func dur(d Duration) time.Duration {
	return time.Duration(d)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Server defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if dur(cfg.Server.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Backend != BackendSQLite {
		t.Errorf("Server.Backend = %q, want %q", cfg.Server.Backend, BackendSQLite)
	}

	// Sync defaults
	if dur(cfg.Sync.Interval) != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if dur(cfg.Sync.Debounce) != 500*time.Millisecond {
		t.Errorf("Sync.Debounce = %v, want 500ms", cfg.Sync.Debounce)
	}
	if cfg.Sync.RetryCeiling != 3 {
		t.Errorf("Sync.RetryCeiling = %d, want 3", cfg.Sync.RetryCeiling)
	}

	// Client defaults
	if cfg.Client.LocalPath != "data/labsync-local.db" {
		t.Errorf("Client.LocalPath = %q, want %q", cfg.Client.LocalPath, "data/labsync-local.db")
	}
	if !cfg.LocalOnly() {
		t.Error("LocalOnly() = false with no remote URL")
	}

	// Log defaults
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LABSYNC_PORT", "9090")
	t.Setenv("LABSYNC_REMOTE_URL", "http://lab.example:8080")
	t.Setenv("LABSYNC_SYNC_INTERVAL", "1m")
	t.Setenv("LABSYNC_RETRY_CEILING", "5")
	t.Setenv("LABSYNC_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Client.RemoteURL != "http://lab.example:8080" || cfg.LocalOnly() {
		t.Errorf("Client.RemoteURL = %q, want override", cfg.Client.RemoteURL)
	}
	if dur(cfg.Sync.Interval) != time.Minute {
		t.Errorf("Sync.Interval = %v, want 1m", cfg.Sync.Interval)
	}
	if cfg.Sync.RetryCeiling != 5 {
		t.Errorf("Sync.RetryCeiling = %d, want 5", cfg.Sync.RetryCeiling)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MalformedEnvValueIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("LABSYNC_PORT", "not-a-port")
	t.Setenv("LABSYNC_SYNC_DEBOUNCE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
	if dur(cfg.Sync.Debounce) != 500*time.Millisecond {
		t.Errorf("Sync.Debounce = %v, want default", cfg.Sync.Debounce)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9999
  backend: memory
client:
  local_path: /var/lib/labsync/local.db
  remote_url: http://remote:8080
sync:
  interval: 2m
  debounce: 250ms
  retry_ceiling: 4
log:
  level: warn
  format: text
  file: /var/log/labsync.log
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.Backend != BackendMemory {
		t.Errorf("Server.Backend = %q, want memory", cfg.Server.Backend)
	}
	if cfg.Client.LocalPath != "/var/lib/labsync/local.db" {
		t.Errorf("Client.LocalPath = %q", cfg.Client.LocalPath)
	}
	if dur(cfg.Sync.Interval) != 2*time.Minute || dur(cfg.Sync.Debounce) != 250*time.Millisecond {
		t.Errorf("Sync = %+v, want 2m/250ms", cfg.Sync)
	}
	if cfg.Sync.RetryCeiling != 4 {
		t.Errorf("Sync.RetryCeiling = %d, want 4", cfg.Sync.RetryCeiling)
	}
	if cfg.Log.File != "/var/log/labsync.log" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Unset values keep their defaults.
	if cfg.Log.MaxBackups != 3 {
		t.Errorf("Log.MaxBackups = %d, want 3", cfg.Log.MaxBackups)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
log:
  level: warn
`)
	t.Setenv("LABSYNC_CONFIG_PATH", path)
	t.Setenv("LABSYNC_PORT", "8888")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888 (env override)", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q (from YAML)", cfg.Log.Level, "warn")
	}
}

func TestLoadFromFile_SecretsNeverReadFromYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  postgres_dsn: postgres://user:pw@db/lab
auth:
  api_key: from-yaml
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Server.PostgresDSN != "" {
		t.Errorf("PostgresDSN = %q, want empty", cfg.Server.PostgresDSN)
	}
	if cfg.Auth.APIKey != "" {
		t.Errorf("Auth.APIKey = %q, want empty", cfg.Auth.APIKey)
	}
}

func TestLoad_BackupStorage(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
backup:
  interval: 1h
  storage:
    bucket: lab-backups
    endpoint: minio:9000
    access_key: from-yaml
`)
	t.Setenv("LABSYNC_CONFIG_PATH", path)
	t.Setenv("LABSYNC_S3_SECRET_KEY", "secret")
	t.Setenv("LABSYNC_S3_USE_SSL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	b := cfg.Backup
	if b.Interval.Std() != time.Hour || b.Dir != "data/backups" {
		t.Errorf("Backup = %+v", b)
	}
	if b.Storage.Bucket != "lab-backups" || b.Storage.Endpoint != "minio:9000" {
		t.Errorf("Storage = %+v", b.Storage)
	}
	if b.Storage.AccessKey != "" || b.Storage.SecretKey != "secret" {
		t.Errorf("credentials = %q/%q, want env-only secret", b.Storage.AccessKey, b.Storage.SecretKey)
	}
	if b.Storage.UseSSL == nil || *b.Storage.UseSSL {
		t.Errorf("UseSSL = %v, want false", b.Storage.UseSSL)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: not_a_number
  this is invalid yaml [
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() expected error for invalid YAML, got nil")
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
sync:
  interval: every-so-often
`)

	_, err := LoadFromFile(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("LoadFromFile() error = %v, want invalid duration", err)
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile() expected error for missing file")
	}
}

func TestLoad_MissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LABSYNC_CONFIG_PATH", "/nonexistent/path/labsync.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown backend", "server:\n  backend: mongo\n", "server.backend"},
		{"unknown log format", "log:\n  format: xml\n", "log.format"},
		{"zero retry ceiling", "sync:\n  retry_ceiling: 0\n", "sync.retry_ceiling"},
		{"bcrypt cost too low", "client:\n  bcrypt_cost: 2\n", "client.bcrypt_cost"},
		{"zero debounce", "sync:\n  debounce: 0s\n", "sync.debounce"},
		{"negative backup interval", "backup:\n  interval: -1h\n", "backup.interval"},
		{"bucket without endpoint", "backup:\n  storage:\n    bucket: lab-backups\n", "backup.storage.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	t.Run("api key required", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if err := cfg.ValidateServe(); err == nil {
			t.Error("ValidateServe() = nil without API key")
		}
	})

	t.Run("api key from env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LABSYNC_API_KEY", "test-api-key")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if err := cfg.ValidateServe(); err != nil {
			t.Errorf("ValidateServe() error = %v", err)
		}
	})

	t.Run("dev mode bypasses api key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LABSYNC_DEV_MODE", "true")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if err := cfg.ValidateServe(); err != nil {
			t.Errorf("ValidateServe() error = %v", err)
		}
	})

	t.Run("postgres needs a dsn", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LABSYNC_DEV_MODE", "true")
		t.Setenv("LABSYNC_BACKEND", BackendPostgres)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if err := cfg.ValidateServe(); err == nil {
			t.Error("ValidateServe() = nil for postgres without DSN")
		}
	})
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "d: 1m30s" {
		t.Errorf("Marshal = %q, want %q", got, "d: 1m30s")
	}
}
