package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Luma analytics service.
type Config struct {
	Server     ServerConfig
	ClickHouse ClickHouseConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Analytics  AnalyticsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

// ClickHouseConfig configures the columnar event store connection.
type ClickHouseConfig struct {
	Addr     string
	Database string
	User     string
	Password string
	Table    string
	// EntityExpr resolves a stable per-user identifier, falling back to the
	// device identifier for anonymous traffic.
	EntityExpr  string
	DialTimeout time.Duration
	MaxConns    int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	RPS         float64
	Burst       int
	IngestRPS   float64
	IngestBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of ingested events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// AnalyticsConfig tunes the computation engines.
type AnalyticsConfig struct {
	DefaultTimeWindow time.Duration
	MaxSegments       int
	MaxEntities       int
	CacheEnabled      bool
	CacheTTL          time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LUMA_HTTP_ADDR", ":8080"),
			Env:             getEnv("LUMA_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LUMA_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		ClickHouse: ClickHouseConfig{
			Addr:        getEnv("LUMA_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:    getEnv("LUMA_CLICKHOUSE_DB", "analytics"),
			User:        getEnv("LUMA_CLICKHOUSE_USER", "default"),
			Password:    getEnv("LUMA_CLICKHOUSE_PASSWORD", ""),
			Table:       getEnv("LUMA_CLICKHOUSE_TABLE", "analytics.events"),
			EntityExpr:  getEnv("LUMA_ENTITY_EXPR", "if(user_id != '', user_id, device_id)"),
			DialTimeout: getDurationEnv("LUMA_CLICKHOUSE_DIAL_TIMEOUT", 10*time.Second),
			MaxConns:    getIntEnv("LUMA_CLICKHOUSE_MAX_CONNS", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LUMA_DB_HOST", "localhost"),
			Port:     getIntEnv("LUMA_DB_PORT", 5432),
			User:     getEnv("LUMA_DB_USER", "luma"),
			Password: getEnv("LUMA_DB_PASSWORD", "luma_secret"),
			DBName:   getEnv("LUMA_DB_NAME", "luma"),
			SSLMode:  getEnv("LUMA_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LUMA_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("LUMA_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LUMA_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LUMA_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LUMA_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("LUMA_AUTH_ENABLED", true),
			MasterKey: getEnv("LUMA_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("LUMA_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/api/events"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("LUMA_RATE_LIMIT_ENABLED", true),
			RPS:         getFloatEnv("LUMA_RATE_LIMIT_RPS", 100),
			Burst:       getIntEnv("LUMA_RATE_LIMIT_BURST", 20),
			IngestRPS:   getFloatEnv("LUMA_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("LUMA_RATE_LIMIT_INGEST_BURST", 200),
		},
		Log: LogConfig{
			Level:  getEnv("LUMA_LOG_LEVEL", "info"),
			Format: getEnv("LUMA_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LUMA_METRICS_ENABLED", true),
			Path:    getEnv("LUMA_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LUMA_GEO_ENABLED", false),
			DatabasePath: getEnv("LUMA_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Analytics: AnalyticsConfig{
			DefaultTimeWindow: getDurationEnv("LUMA_FUNNEL_TIME_WINDOW", 7*24*time.Hour),
			MaxSegments:       getIntEnv("LUMA_MAX_SEGMENTS", 20),
			MaxEntities:       getIntEnv("LUMA_MAX_ENTITIES", 50000),
			CacheEnabled:      getBoolEnv("LUMA_CACHE_ENABLED", true),
			CacheTTL:          getDurationEnv("LUMA_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("LUMA_API_KEY_MASTER is required when auth is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
