package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects the session document store implementation.
type StoreBackend string

const (
	BackendMemory StoreBackend = "memory"
	BackendMongo  StoreBackend = "mongo"
	BackendRedis  StoreBackend = "redis"
)

// Config holds all service settings, read from the environment.
type Config struct {
	Addr           string
	BaseURL        string
	AllowedOrigins []string

	StoreBackend StoreBackend
	IdleTTL      time.Duration

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Postgres PostgresConfig

	NATSURL string

	GamesFile string
}

// PostgresConfig holds the question database connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads the service configuration (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		Addr:           ":" + getEnv("PORT", "8080"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),

		StoreBackend: StoreBackend(getEnv("STORE_BACKEND", "memory")),
		IdleTTL:      getDurationEnv("SESSION_IDLE_TTL", 6*time.Hour),

		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", "trivia"),
		MongoCollection: getEnv("MONGO_COLLECTION", "minigame_sessions"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getIntEnv("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "trivia"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		NATSURL: getEnv("NATS_URL", ""),

		GamesFile: getEnv("GAMES_FILE", ""),
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendMongo, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.IdleTTL <= 0 {
		return fmt.Errorf("session idle TTL must be positive, got %s", c.IdleTTL)
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return fallback
	}
	return v
}
