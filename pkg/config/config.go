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

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Exchange-rate source
	FX FXConfig

	// Engine
	Engine EngineConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
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

	// LockTimeout bounds row-lock waits; a timeout (55P03) is retried by the stages
	LockTimeout time.Duration
}

// FXConfig holds the live exchange-rate API configuration
type FXConfig struct {
	APIKey        string
	BaseURL       string
	RatePerSecond int
	CacheTTL      time.Duration
	Timeout       time.Duration
	MaxRetries    int
}

// EngineConfig holds batch engine settings
type EngineConfig struct {
	ConfigPath    string // YAML engine/parameter file
	Workers       int
	ChunkSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	PipelineCron  string
	PipelineDate  string // previous_day | month_end
	LogRetention  time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "ifrs9"),
			User:            getEnv("DB_USER", "ifrs9"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
			LockTimeout:     getEnvAsDuration("DB_LOCK_TIMEOUT", "10s"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		FX: FXConfig{
			APIKey:        getEnv("FX_API_KEY", ""),
			BaseURL:       getEnv("FX_BASE_URL", "https://api.exchangerate.host"),
			RatePerSecond: getEnvAsInt("FX_RATE_PER_SECOND", 5),
			CacheTTL:      getEnvAsDuration("FX_CACHE_TTL", "24h"),
			Timeout:       getEnvAsDuration("FX_TIMEOUT", "10s"),
			MaxRetries:    getEnvAsInt("FX_MAX_RETRIES", 3),
		},

		Engine: EngineConfig{
			ConfigPath:    getEnv("ECL_CONFIG_PATH", "config/ecl.yaml"),
			Workers:       getEnvAsInt("ECL_WORKERS", 8),
			ChunkSize:     getEnvAsInt("ECL_CHUNK_SIZE", 2000),
			RetryAttempts: getEnvAsInt("ECL_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvAsDuration("ECL_RETRY_DELAY", "2s"),
			PipelineCron:  getEnv("ECL_PIPELINE_CRON", "0 30 1 * * *"),
			PipelineDate:  getEnv("ECL_PIPELINE_DATE", "previous_day"),
			LogRetention:  getEnvAsDuration("ECL_LOG_RETENTION", "720h"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("ECL_WORKERS must be >= 1")
	}

	if c.Engine.ChunkSize < 1 {
		return fmt.Errorf("ECL_CHUNK_SIZE must be >= 1")
	}

	if c.Engine.PipelineDate != "previous_day" && c.Engine.PipelineDate != "month_end" {
		return fmt.Errorf("ECL_PIPELINE_DATE must be one of: previous_day, month_end")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
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
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
