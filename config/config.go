// Package config provides environment-based configuration for the authz
// service.
//
// Configuration is loaded from environment variables using Viper, with
// sensible defaults for development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: authz.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - REDIS_ADDR: Redis address for the reachability cache. Empty disables
//     Redis and uses the in-process cache.
//   - CACHE_TTL: Lifetime bound for Redis cache entries. Default: 24h
//   - JWT_SECRET: HMAC secret for the bearer tokens carrying the
//     authenticated principal id.
//   - OTLP_ENDPOINT: OTLP gRPC endpoint for trace export. Empty disables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType          string        `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"DSN"`
	SkipAutoMigrate bool          `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Port            int           `mapstructure:"PORT"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	CacheTTL        time.Duration `mapstructure:"CACHE_TTL"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	OTLPEndpoint    string        `mapstructure:"OTLP_ENDPOINT"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "authz.db")
	viper.SetDefault("SKIP_AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("CACHE_TTL", "24h")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("OTLP_ENDPOINT", "")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
