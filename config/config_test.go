package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankboard/adapters/sqlx"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "/auth", cfg.Auth.AuthPath)
	assert.Equal(t, "/", cfg.Auth.PublicPath)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("RANKBOARD_ENV", "production")
	t.Setenv("RANKBOARD_SERVER_ADDR", ":9090")
	t.Setenv("RANKBOARD_SERVER_READ_TIMEOUT", "15s")
	t.Setenv("RANKBOARD_STORAGE_ADAPTER", "file")
	t.Setenv("RANKBOARD_STORAGE_FILE_PATH", "/tmp/board.json")
	t.Setenv("RANKBOARD_AUTH_ADMIN_USERS", "root@example.com:s3cret, ops@example.com:pw")
	t.Setenv("RANKBOARD_SECURITY_RATE_LIMIT_ENABLED", "true")
	t.Setenv("RANKBOARD_SECURITY_RATE_LIMIT_RPM", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "file", cfg.Storage.Adapter)
	assert.Equal(t, "/tmp/board.json", cfg.Storage.File.Path)
	assert.Equal(t, []string{"root@example.com:s3cret", "ops@example.com:pw"}, cfg.Auth.AdminUsers)
	assert.True(t, cfg.Security.EnableRateLimit)
	assert.Equal(t, 120, cfg.Security.RateLimit.RequestsPerMinute)
}

func TestLoadRejectsInvalidEnvValue(t *testing.T) {
	t.Setenv("RANKBOARD_SERVER_READ_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RANKBOARD_SERVER_READ_TIMEOUT")
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("RANKBOARD_SQL_DSN", "postgres://user:pw@db/rank")
	t.Setenv("RANKBOARD_SQL_DRIVER", "mysql")
	t.Setenv("RANKBOARD_REDIS_PASSWORD", "hush")

	cfg := DefaultConfig()
	LoadSecretsFromEnv(cfg)
	assert.Equal(t, "postgres://user:pw@db/rank", cfg.Storage.SQL.DSN)
	assert.Equal(t, sqlx.DriverMySQL, cfg.Storage.SQL.Driver)
	assert.Equal(t, "hush", cfg.Storage.Redis.Password)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "environment": "staging",
  "server": {"address": ":7070"},
  "storage": {"adapter": "memory"},
  "auth": {"admin_users": ["boss@example.com:pw"], "auth_path": "/login", "public_path": "/board"}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "/login", cfg.Auth.AuthPath)
	assert.Equal(t, "/board", cfg.Auth.PublicPath)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
environment: production
server:
  address: ":6060"
  path_prefix: /api/v1
storage:
  adapter: redis
  redis:
    addr: redis.internal:6379
metrics:
  enabled: true
webhook:
  endpoints:
    - https://hooks.example.com/rank
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, ":6060", cfg.Server.Address)
	assert.Equal(t, "/api/v1", cfg.Server.PathPrefix)
	assert.Equal(t, "redis", cfg.Storage.Adapter)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"https://hooks.example.com/rank"}, cfg.Webhook.Endpoints)
}

func TestLoadFromFileRejectsBadExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown adapter", func(c *Config) { c.Storage.Adapter = "etcd" }, "adapter must be one of"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "level must be one of"},
		{"bad credential", func(c *Config) { c.Auth.AdminUsers = []string{"no-colon"} }, "email:password"},
		{"empty metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = ""
		}, "path cannot be empty"},
		{"zero burst", func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.BurstSize = 0
		}, "burst_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSplitCredential(t *testing.T) {
	email, password, err := SplitCredential("admin@example.com:pa:ss")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", email)
	assert.Equal(t, "pa:ss", password)

	_, _, err = SplitCredential("missing-password")
	require.Error(t, err)
	_, _, err = SplitCredential(":pw")
	require.Error(t, err)
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:hunter2@db/rank"
	cfg.Storage.Redis.Password = "hush"
	cfg.Auth.AdminUsers = []string{"boss@example.com:pw"}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "hush")
	assert.NotContains(t, out, ":pw")
	assert.Contains(t, out, "boss@example.com:[REDACTED]")
}
