package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Storage settings
	DBPath string

	// HTTP settings
	ListenAddr     string
	AllowedOrigins []string

	// Sync settings
	SyncBatchSize  int
	ReconnectDelay time.Duration

	// Network budgets
	DialTimeout  time.Duration
	ProbeTimeout time.Duration

	LogLevel          string
	SearchResultLimit int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBPath:            getEnv("DB_PATH", "/data/mailwatch.db"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		SyncBatchSize:     getEnvInt("SYNC_BATCH_SIZE", 50),
		ReconnectDelay:    time.Duration(getEnvInt("RECONNECT_DELAY_SECONDS", 5)) * time.Second,
		DialTimeout:       time.Duration(getEnvInt("DIAL_TIMEOUT_SECONDS", 10)) * time.Second,
		ProbeTimeout:      time.Duration(getEnvInt("PROBE_TIMEOUT_SECONDS", 5)) * time.Second,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SearchResultLimit: getEnvInt("SEARCH_RESULT_LIMIT", 100),
	}

	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY_SECONDS must be positive")
	}
	if c.DialTimeout <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("network timeouts must be positive")
	}
	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
