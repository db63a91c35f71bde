package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/draftpilot/draftpilot/internal/secrets"
)

type Config struct {
	Port string

	GeneratorProvider              string
	GeneratorBaseURL               string
	GeneratorGeneratePath          string
	GeneratorStreamPath            string
	GeneratorModel                 string
	GeneratorTemperature           float64
	GeneratorMaxOutputTokens       int
	GeneratorStreamMaxOutputTokens int
	GeneratorTimeout               time.Duration
	GeneratorMaxRetries            int
	GeneratorCredential            string
	GeneratorCredentialSealed      string
	SecretsKey                     string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresURL   string

	SessionTTL          time.Duration
	SessionCacheSize    int
	StreamFlushBytes    int
	StreamFlushInterval time.Duration

	TemporalEnabled   bool
	TemporalAddress   string
	TemporalTaskQueue string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadDotEnv loads DRAFTPILOT_ENV_FILE (default .env) into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv() error {
	path := getEnv("DRAFTPILOT_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port: getEnv("DRAFTPILOT_PORT", "8080"),

		GeneratorProvider:              getEnv("GENERATOR_PROVIDER", "remote"),
		GeneratorBaseURL:               strings.TrimRight(getEnv("GENERATOR_BASE_URL", ""), "/"),
		GeneratorGeneratePath:          getEnv("GENERATOR_GENERATE_PATH", "/api/generate"),
		GeneratorStreamPath:            getEnv("GENERATOR_STREAM_PATH", "/api/generate/stream"),
		GeneratorModel:                 getEnv("GENERATOR_MODEL", "gemini-2.5-pro"),
		GeneratorTemperature:           getEnvFloat("GENERATOR_TEMPERATURE", 0.7),
		GeneratorMaxOutputTokens:       getEnvInt("GENERATOR_MAX_OUTPUT_TOKENS", 2048),
		GeneratorStreamMaxOutputTokens: getEnvInt("GENERATOR_STREAM_MAX_OUTPUT_TOKENS", 8192),
		GeneratorTimeout:               getEnvDuration("GENERATOR_TIMEOUT", 120*time.Second),
		GeneratorMaxRetries:            getEnvInt("GENERATOR_MAX_RETRIES", 3),
		GeneratorCredential:            getEnv("GENERATOR_CREDENTIAL", ""),
		GeneratorCredentialSealed:      getEnv("GENERATOR_CREDENTIAL_ENC", ""),
		SecretsKey:                     getEnv("SECRETS_KEY", ""),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresURL:   postgresURL,

		SessionTTL:          getEnvDuration("SESSION_TTL", 30*time.Minute),
		SessionCacheSize:    getEnvInt("SESSION_CACHE_SIZE", 1024),
		StreamFlushBytes:    getEnvInt("STREAM_FLUSH_BYTES", 64),
		StreamFlushInterval: getEnvDuration("STREAM_FLUSH_INTERVAL", 75*time.Millisecond),

		TemporalEnabled:   getEnvBool("TEMPORAL_ENABLED", false),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "draftpilot-drafts"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),
	}
}

// Credential resolves the server-side generator credential. A sealed value
// takes precedence over the plain one.
func (c Config) Credential() (string, error) {
	if c.GeneratorCredentialSealed != "" {
		sealed := c.GeneratorCredentialSealed
		if !secrets.IsSealed(sealed) {
			sealed = secrets.SealedPrefix + sealed
		}
		plain, err := secrets.Reveal(c.SecretsKey, sealed)
		if err != nil {
			return "", fmt.Errorf("GENERATOR_CREDENTIAL_ENC: %w", err)
		}
		return plain, nil
	}
	return c.GeneratorCredential, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "draftpilot")
	password := getEnv("POSTGRES_PASSWORD", "draftpilot")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "draftpilot")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
