package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string
	Env  string

	SiteURL         string
	Attribution     string
	StorageBasePath string
	SourcePrefix    string

	WorkerCount      int
	MaxAttempts      int
	RetryDelay       time.Duration
	StaleTaskTimeout time.Duration

	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string
	DatabaseURL  string
	RedisAddr    string

	ExifTool string
}

func Load() *Config {
	return &Config{
		Port: getEnv("SERVICE_PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		SiteURL:         getEnv("SITE_URL", "http://localhost:8080"),
		Attribution:     getEnv("ATTRIBUTION", ""),
		StorageBasePath: getEnv("STORAGE_BASE_PATH", "./data"),
		SourcePrefix:    getEnv("SOURCE_PREFIX", "photos/"),

		WorkerCount:      getEnvAsInt("WORKER_COUNT", 3),
		MaxAttempts:      getEnvAsInt("MAX_ATTEMPTS", 3),
		RetryDelay:       getEnvAsDuration("RETRY_DELAY", 5*time.Second),
		StaleTaskTimeout: getEnvAsDuration("STALE_TASK_TIMEOUT", 10*time.Minute),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "photo_uploads"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "print-worker"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),

		ExifTool: getEnv("EXIFTOOL_PATH", "exiftool"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
