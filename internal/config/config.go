package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabasePath      string
	ClassifierConfig  string // TOML file with static classification tables
	ERPBaseURL        string
	LogLevel          string
	Port              int
	DevMode           bool
	ImportSchedule    string // cron spec for settlement import
	ReconcileSchedule string // cron spec for the nightly reconciliation run
	ClassifyMinScore  float64
	ClassifyWorkers   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8010),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/books.db"),
		ClassifierConfig:  getEnv("CLASSIFIER_CONFIG", "./configs/classifier.toml"),
		ERPBaseURL:        getEnv("ERP_BASE_URL", "http://localhost:9010"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ImportSchedule:    getEnv("IMPORT_SCHEDULE", "0 30 2 * * *"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "0 0 3 * * *"),
		ClassifyMinScore:  getEnvAsFloat("CLASSIFY_MIN_SCORE", 0.7),
		ClassifyWorkers:   getEnvAsInt("CLASSIFY_WORKERS", 4),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.ERPBaseURL == "" {
		return fmt.Errorf("ERP_BASE_URL is required")
	}
	return nil
}

// Helper functions
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
