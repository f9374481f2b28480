package config

import (
	"os"

	"rankboard/adapters/sqlx"
)

// LoadSecretsFromEnv pulls secret material from the environment. These
// variables never appear in config files so they stay out of version
// control; they also override any file-provided value.
func LoadSecretsFromEnv(cfg *Config) {
	if dsn := os.Getenv("RANKBOARD_SQL_DSN"); dsn != "" {
		cfg.Storage.SQL.DSN = dsn
	}
	if driver := os.Getenv("RANKBOARD_SQL_DRIVER"); driver != "" {
		cfg.Storage.SQL.Driver = sqlx.Driver(driver)
	}
	if addr := os.Getenv("RANKBOARD_REDIS_ADDR"); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}
	if pass := os.Getenv("RANKBOARD_REDIS_PASSWORD"); pass != "" {
		cfg.Storage.Redis.Password = pass
	}
}
