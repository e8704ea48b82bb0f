package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (optional write-through persistence tier)
	Database DatabaseConfig

	// Redis (optional cross-process snapshot cache used by the gateway)
	Redis RedisConfig

	// Upstream quote providers
	Tushare TushareConfig
	AKShare AKShareConfig

	// Job engine and cache tuning
	Job   JobConfig
	Cache CacheConfig

	// Strategy registry
	StrategyDir string

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// TushareConfig holds the primary (token-authenticated) provider's
// configuration.
type TushareConfig struct {
	Token   string
	BaseURL string
	RPS     float64
}

// AKShareConfig holds the secondary (free, scraped) provider's
// configuration.
type AKShareConfig struct {
	BaseURL string
	RPS     float64
}

// JobConfig tunes JobEngine's worker pool, capacity ceiling, and
// ProgressStore retention.
type JobConfig struct {
	DefaultWorkerCount int
	MaxWorkerCount     int
	MaxConcurrentJobs  int
	Retention          int
}

// CacheConfig tunes QuoteCache's size and per-operation TTLs.
type CacheConfig struct {
	Size            int
	TTLReference    time.Duration
	TTLFundamentals time.Duration
	TTLSnapshot     time.Duration
	TTLHistory      time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database (optional; dbtier is disabled when DATABASE_URL is unset)
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "astock_strategy"),
			User:            getEnv("DB_USER", "astock_strategy"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis (optional; only consulted when REDIS_ENABLED is true)
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Tushare: TushareConfig{
			Token:   getEnv("TUSHARE_TOKEN", ""),
			BaseURL: getEnv("TUSHARE_BASE_URL", "http://api.tushare.pro"),
			RPS:     getEnvAsFloat("PRIMARY_PROVIDER_RPS", 5),
		},
		AKShare: AKShareConfig{
			BaseURL: getEnv("AKSHARE_BASE_URL", "https://push2.eastmoney.com"),
			RPS:     getEnvAsFloat("SECONDARY_PROVIDER_RPS", 3),
		},

		Job: JobConfig{
			DefaultWorkerCount: getEnvAsInt("DEFAULT_WORKER_COUNT", 5),
			MaxWorkerCount:     getEnvAsInt("MAX_WORKER_COUNT", 16),
			MaxConcurrentJobs:  getEnvAsInt("MAX_CONCURRENT_JOBS", 4),
			Retention:          getEnvAsInt("JOB_RETENTION", 64),
		},
		Cache: CacheConfig{
			Size:            getEnvAsInt("CACHE_SIZE", 10000),
			TTLReference:    getEnvAsDuration("CACHE_TTL_REFERENCE", "1h"),
			TTLFundamentals: getEnvAsDuration("CACHE_TTL_FUNDAMENTALS", "15m"),
			TTLSnapshot:     getEnvAsDuration("CACHE_TTL_SNAPSHOT", "5m"),
			TTLHistory:      getEnvAsDuration("CACHE_TTL_HISTORY", "15m"),
		},

		StrategyDir: getEnv("STRATEGY_DIR", "config/strategies"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set. Unlike the
// database tier, which is optional, the primary provider token is not —
// Start() has nothing to fetch without it.
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}
	if c.Tushare.Token == "" && c.Env == "production" {
		return fmt.Errorf("TUSHARE_TOKEN is required in production")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env",        // Current directory
		"backend/.env", // From project root
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
