package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the service.
type Config struct {
	AppName string `envconfig:"APP_NAME" default:"tenantrbac"`
	AppPort int    `envconfig:"APP_PORT" default:"8080"`

	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"rbac_user"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"rbac_db"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`

	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	CachePrefix string        `envconfig:"CACHE_PREFIX" default:"rbac:"`

	LogFile  string `envconfig:"LOG_FILE" default:"app.log"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	AuditEnabled    bool `envconfig:"AUDIT_ENABLED" default:"true"`
	HonorDenyGrants bool `envconfig:"HONOR_DENY_GRANTS" default:"false"`
	AutoMigrate     bool `envconfig:"AUTO_MIGRATE" default:"true"`
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	return &cfg, nil
}

// PostgresDSN renders the connection string used by both pools.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
