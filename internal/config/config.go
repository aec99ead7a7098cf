package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort      string
	ServiceName      string
	LogMode          string
	MaxUploadMB      int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool
	MinIOPresignTTL time.Duration

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Auth configuration
	JWTSecret   string
	CookieName  string
	LoginPath   string
	LibraryPath string

	// Assistant configuration
	CompletionURL     string
	CompletionAPIKey  string
	CompletionTimeout time.Duration

	// Jaeger configuration
	JaegerEndpoint string
	TracingEnabled bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		ServicePort:      getEnv("SERVICE_PORT", "8080"),
		ServiceName:      getEnv("SERVICE_NAME", "epubshelf"),
		LogMode:          getEnv("LOG_MODE", "development"),
		MaxUploadMB:      getEnvAsInt("MAX_UPLOAD_MB", 100),
		HTTPReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 60*time.Second),
		HTTPWriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute),

		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "epubshelf"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),
		MinIOPresignTTL: getEnvAsDuration("MINIO_PRESIGN_TTL", 15*time.Minute),

		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "epubshelf"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),

		JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
		CookieName:  getEnv("AUTH_COOKIE_NAME", "session"),
		LoginPath:   getEnv("LOGIN_PATH", "/login"),
		LibraryPath: getEnv("LIBRARY_PATH", "/"),

		CompletionURL:     getEnv("COMPLETION_URL", "http://localhost:8000/api/chat"),
		CompletionAPIKey:  getEnv("COMPLETION_API_KEY", ""),
		CompletionTimeout: getEnvAsDuration("COMPLETION_TIMEOUT", 3*time.Minute),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports configuration that would make the service unusable
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must be set")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.CompletionURL == "" {
		return errors.New("COMPLETION_URL must be set")
	}
	return nil
}

// GetDSN returns the MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the upload limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
