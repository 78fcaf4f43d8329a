// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
	OtelInsecure     bool
	ServiceVersion   string

	// Flyway設定
	FlywayRoot               string
	FlywayURL                string
	FlywayUser               string
	FlywayPassword           string
	FlywayPasswordCiphertext string

	MigrationsDir        string
	TopologyFile         string
	StrictSchemas        bool
	DatabasePrefix       string
	MigrationParallelism int
	PushgatewayURL       string
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "schema-migration-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		OtelInsecure:     getEnvBool("OTEL_INSECURE", false),
		ServiceVersion:   getEnv("SERVICE_VERSION", "dev"),

		FlywayRoot:               getEnv("FLYWAY_ROOT", "/app/flyway"),
		FlywayURL:                os.Getenv("FLYWAY_URL"),
		FlywayUser:               os.Getenv("FLYWAY_USER"),
		FlywayPassword:           os.Getenv("FLYWAY_PASSWORD"),
		FlywayPasswordCiphertext: os.Getenv("FLYWAY_PASSWORD_CIPHERTEXT"),

		MigrationsDir:        getEnv("MIGRATIONS_DIR", "./flyway"),
		TopologyFile:         os.Getenv("TOPOLOGY_FILE"),
		StrictSchemas:        getEnvBool("STRICT_SCHEMAS", false),
		DatabasePrefix:       getEnv("DATABASE_PREFIX", "neofast_"),
		MigrationParallelism: getEnvInt("MIGRATION_PARALLELISM", 4),
		PushgatewayURL:       os.Getenv("PUSHGATEWAY_URL"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 || f > 1 {
		return defaultVal
	}
	return f
}
