// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ストアドライバ
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	// AutoMigrate はserve起動時にマイグレーションを適用するかどうか。
	// AUTO_MIGRATE未設定の場合、sqliteでは有効、postgresでは無効になる。
	AutoMigrate bool `ignored:"true"`

	// Session
	SessionMaxAge          int           `envconfig:"SESSION_MAX_AGE" default:"86400"`
	SessionCleanupInterval time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" default:"1h"`
	WorkspaceIdleTTL       time.Duration `envconfig:"WORKSPACE_IDLE_TTL" default:"30m"`
	SessionCheckInterval   time.Duration `envconfig:"SESSION_CHECK_INTERVAL" default:"1m"`

	// Outbound HTTP
	HTTPClientTimeout time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"10s"`
	UserAgent         string        `envconfig:"USER_AGENT" default:"Placebook/1.0 (+https://github.com/hitoshi/placebook)"`
	GeocodeEndpoint   string        `envconfig:"GEOCODE_ENDPOINT" default:"https://nominatim.openstreetmap.org/search"`
	GeocodeRatePerSec float64       `envconfig:"GEOCODE_RATE_PER_SEC" default:"1"`
	CapitalsEndpoint  string        `envconfig:"CAPITALS_ENDPOINT" default:"https://restcountries.com/v3.1/all"`
	FlagEndpoint      string        `envconfig:"FLAG_ENDPOINT" default:"https://flagcdn.com"`

	// Rate Limit（req/min/user）
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitGeocode int `envconfig:"RATE_LIMIT_GEOCODE" default:"30"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Server
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	BaseURL    string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// Cookie
	CookieSecure bool   `ignored:"true"`
	CookieDomain string `envconfig:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:8081"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定または空の場合、値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// envconfigは空文字列を設定済みとみなすため、必須項目は改めて検証する
	var missing []string
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q (allowed: %s, %s)", cfg.StoreDriver, DriverPostgres, DriverSQLite)
	}

	cfg.AutoMigrate = cfg.StoreDriver == DriverSQLite
	if v, ok := os.LookupEnv("AUTO_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
		cfg.AutoMigrate = b
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}
