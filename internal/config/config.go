package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BackendURL        string
	SocketURL         string
	DatabaseURL       string
	LogLevel          string
	ReconnectAttempts int
	TypingIdle        time.Duration
	RequestTimeout    time.Duration
}

func Load() *Config {
	backend := strings.TrimRight(getEnv("PING_BACKEND_URL", "https://ping-chat-backend.pxxl.click"), "/")

	return &Config{
		BackendURL:        backend,
		SocketURL:         getEnv("PING_SOCKET_URL", SocketURLFor(backend)),
		DatabaseURL:       getEnv("PING_SESSION_DB", "sqlite://"+defaultSessionPath()),
		LogLevel:          getEnv("PING_LOG_LEVEL", "info"),
		ReconnectAttempts: getEnvInt("PING_RECONNECT_ATTEMPTS", 5),
		TypingIdle:        getEnvDuration("PING_TYPING_IDLE", time.Second),
		RequestTimeout:    getEnvDuration("PING_REQUEST_TIMEOUT", 10*time.Second),
	}
}

// SocketURLFor derives the realtime endpoint from the backend origin.
func SocketURLFor(backend string) string {
	backend = strings.TrimRight(backend, "/")
	switch {
	case strings.HasPrefix(backend, "https://"):
		return "wss://" + strings.TrimPrefix(backend, "https://") + "/ws"
	case strings.HasPrefix(backend, "http://"):
		return "ws://" + strings.TrimPrefix(backend, "http://") + "/ws"
	}
	return backend + "/ws"
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			return filepath.Clean(dbPath)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ping", "session.db")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
