package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all configuration for the chat server.
type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// LoadServer reads server configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on a missing Redis URL.
func LoadServer() *ServerConfig {
	_ = godotenv.Load()

	cfg := &ServerConfig{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:            os.Getenv("NATS_URL"),
		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
	}

	// Sequencing lives in Redis; Postgres and NATS stay optional
	if cfg.Env == "production" && os.Getenv("REDIS_URL") == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// ClientConfig holds the peer CLI configuration. Durable values such as the
// app id and chat name live in the settings file under Home instead.
type ClientConfig struct {
	Home            string
	ServerURL       string
	Latitude        string
	Longitude       string
	DefaultChatroom string
	Timeout         time.Duration
	Env             string
	LogLevel        string
}

// LoadClient reads peer configuration from environment variables, loading
// .env from the working directory and from the data dir when present.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	home := os.Getenv("PEERCHAT_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".peerchat")
	}
	_ = godotenv.Load(filepath.Join(home, ".env"))

	timeout, err := time.ParseDuration(getEnv("PEERCHAT_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}

	return &ClientConfig{
		Home:            home,
		ServerURL:       getEnv("PEERCHAT_URL", "http://localhost:8080"),
		Latitude:        os.Getenv("PEERCHAT_LATITUDE"),
		Longitude:       os.Getenv("PEERCHAT_LONGITUDE"),
		DefaultChatroom: getEnv("PEERCHAT_DEFAULT_CHATROOM", "_default"),
		Timeout:         timeout,
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}, nil
}

// DatabasePath is the location of the local message database.
func (c *ClientConfig) DatabasePath() string {
	return filepath.Join(c.Home, "peerchat.db")
}

// LogPath is the location of the peer's log file.
func (c *ClientConfig) LogPath() string {
	return filepath.Join(c.Home, "peerchat.log")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
