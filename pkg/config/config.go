package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Messaging MessagingConfig `json:"messaging"`
	Archive   ArchiveConfig   `json:"archive"`
	Fusion    FusionConfig    `json:"fusion"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port          int           `json:"port"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
}

// AuthConfig holds bearer-token authentication configuration
type AuthConfig struct {
	JWTSecret string `json:"-"`
	Issuer    string `json:"issuer"`
	// DevBypass disables token verification entirely. Development only.
	DevBypass bool `json:"dev_bypass"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

// RedisConfig holds configuration for the durable session state store
// and the hot score cache, which share one Redis deployment.
type RedisConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"-"`
	Database     int           `json:"database"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// DatabaseConfig holds MySQL analytical-store configuration
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// MessagingConfig holds AMQP event bus configuration
type MessagingConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"-"`
	ExchangeName string `json:"exchange_name"`
	QueueName    string `json:"queue_name"`
}

// ArchiveConfig holds S3 archive configuration
type ArchiveConfig struct {
	Enabled   bool   `json:"enabled"`
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key_prefix"`
	Region    string `json:"region"`
}

// FusionConfig holds fusion engine tunables
type FusionConfig struct {
	// EmpiricalBaseline selects warm-up averages over the fixed
	// reference constants. Changes numeric outputs.
	EmpiricalBaseline bool          `json:"empirical_baseline"`
	PacketHistorySize int           `json:"packet_history_size"`
	ScoreHistorySize  int           `json:"score_history_size"`
	MaxSessionAge     time.Duration `json:"max_session_age"`
}

// Load reads configuration from a .env file (if present) and the
// process environment.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	} else {
		logger.Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:          getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			EnableMetrics: getEnvBool("HTTP_ENABLE_METRICS", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", "grit-server"),
			DevBypass: getEnvBool("AUTH_DEV_BYPASS", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Address:      getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			Database:     getEnvInt("REDIS_DATABASE", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getEnvDuration("REDIS_CACHE_TTL", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 3306),
			Database:        getEnv("DB_NAME", "grit"),
			Username:        getEnv("DB_USERNAME", "grit"),
			Password:        getEnv("DB_PASSWORD", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Messaging: MessagingConfig{
			Enabled:      getEnvBool("AMQP_ENABLED", false),
			URL:          getEnv("AMQP_URL", ""),
			ExchangeName: getEnv("AMQP_EXCHANGE", "grit.scores"),
			QueueName:    getEnv("AMQP_QUEUE_NAME", "grit_score_batches"),
		},
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("ARCHIVE_ENABLED", false),
			Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
			KeyPrefix: getEnv("ARCHIVE_S3_PREFIX", "sessions/"),
			Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		},
		Fusion: FusionConfig{
			EmpiricalBaseline: getEnvBool("FUSION_EMPIRICAL_BASELINE", false),
			PacketHistorySize: getEnvInt("FUSION_PACKET_HISTORY", 1000),
			ScoreHistorySize:  getEnvInt("FUSION_SCORE_HISTORY", 300),
			MaxSessionAge:     getEnvDuration("FUSION_MAX_SESSION_AGE", 24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration coherence
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if !c.Auth.DevBypass && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required unless AUTH_DEV_BYPASS is set")
	}
	if c.Messaging.Enabled && c.Messaging.URL == "" {
		return fmt.Errorf("AMQP_URL is required when messaging is enabled")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET is required when archiving is enabled")
	}
	if c.Fusion.PacketHistorySize <= 0 || c.Fusion.ScoreHistorySize <= 0 {
		return fmt.Errorf("fusion history sizes must be positive")
	}
	if c.Fusion.MaxSessionAge <= 0 {
		return fmt.Errorf("max session age must be positive")
	}
	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
