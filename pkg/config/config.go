package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	MetricsPort string
	LogLevel    string

	ScyllaHosts    []string
	Keyspace       string
	RedisAddr      string
	KafkaBrokers   []string
	ChangelogTopic string

	JWTSecret string
	NodeID    int64

	PageSize           int
	CachePages         int
	StalenessThreshold time.Duration
	ReconcileInterval  time.Duration
}

// Load reads configuration from the environment, with an optional .env file
// for local development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ScyllaHosts:    getEnvList("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:       getEnv("SCYLLA_KEYSPACE", "linquo"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS", "localhost:19092"),
		ChangelogTopic: getEnv("KAFKA_CHANGELOG_TOPIC", "message-changelog"),

		JWTSecret: getEnv("JWT_SECRET", "dev_secret_change_me"),
		NodeID:    getEnvInt64("NODE_ID", 1),

		PageSize:           getEnvInt("PAGE_SIZE", 50),
		CachePages:         getEnvInt("CACHE_PAGES", 10),
		StalenessThreshold: getEnvDuration("STALENESS_THRESHOLD", 30*time.Second),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	return strings.Split(getEnv(key, defaultValue), ",")
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
