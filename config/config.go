// Package config provides configuration for the optiontree server.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":7480").
	Listen string
	// DataDir is the root directory for mission databases.
	DataDir string
	// Version is the server version string.
	Version string
	// Debug enables debug logging.
	Debug bool
	// LogFormat is "text" or "json".
	LogFormat string
	// MaxOpenMissions is the maximum number of mission databases kept open.
	MaxOpenMissions int
	// IdleTTL is how long to keep idle mission databases open.
	IdleTTL time.Duration
	// RequestTimeout bounds every HTTP request.
	RequestTimeout time.Duration
	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64
	// HugeThreshold is the descendant count above which serialization truncates.
	HugeThreshold int
	// TruncatedCount is how many descendants a truncated serialization holds.
	TruncatedCount int
	// JWTSigningKey enables bearer-token auth when set.
	JWTSigningKey string
	// JWTIssuer is the expected token issuer.
	JWTIssuer string
	// AdminKeyHash is a bcrypt hash of the static admin key.
	AdminKeyHash string
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		Listen:          getEnv("OPTIONTREE_LISTEN", ":7480"),
		DataDir:         getEnv("OPTIONTREE_DATA", "./data"),
		Version:         getEnv("OPTIONTREE_VERSION", "0.1.0"),
		Debug:           getEnvBool("OPTIONTREE_DEBUG", false),
		LogFormat:       strings.ToLower(getEnv("OPTIONTREE_LOG_FORMAT", "text")),
		MaxOpenMissions: getEnvInt("OPTIONTREE_MAX_OPEN", 256),
		IdleTTL:         getEnvDuration("OPTIONTREE_IDLE_TTL", 10*time.Minute),
		RequestTimeout:  getEnvDuration("OPTIONTREE_REQUEST_TIMEOUT", 30*time.Second),
		MaxBodySize:     getEnvInt64("OPTIONTREE_MAX_BODY_SIZE", 8*1024*1024),
		HugeThreshold:   getEnvInt("OPTIONTREE_HUGE_THRESHOLD", 100),
		TruncatedCount:  getEnvInt("OPTIONTREE_TRUNCATED_COUNT", 10),
		JWTSigningKey:   getEnv("OPTIONTREE_JWT_KEY", ""),
		JWTIssuer:       getEnv("OPTIONTREE_JWT_ISSUER", "optiontree"),
		AdminKeyHash:    getEnv("OPTIONTREE_ADMIN_KEY_HASH", ""),
	}
}

// FromArgs creates a Config from explicit values, with env fallbacks.
func FromArgs(listen, dataDir string) *Config {
	cfg := FromEnv()
	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg
}

// AuthEnabled reports whether bearer tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.JWTSigningKey != ""
}

// Logger builds the process logger.
func (c *Config) Logger() *slog.Logger {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
