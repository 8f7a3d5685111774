package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Secret         string
	DatabaseDriver string
	DatabaseDSN    string
	HTTPPort       string
	FeeRulesPath   string
	CatalogPath    string
	LogLevel       string
	SaleTimeout    time.Duration
	LockTimeout    time.Duration
}

// Load reads configuration from a .env file (if any) and environment
// variables, falling back to reasonable defaults.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Secret:         envOr("SECRET", "dev_secret"),
		DatabaseDriver: envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    envOr("DATABASE_DSN", "possale.db"),
		HTTPPort:       envOr("HTTP_PORT", "8080"),
		FeeRulesPath:   os.Getenv("FEE_RULES_PATH"),
		CatalogPath:    os.Getenv("CATALOG_PATH"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		SaleTimeout:    durationOr("SALE_TIMEOUT", 10*time.Second),
		LockTimeout:    durationOr("LOCK_TIMEOUT", 5*time.Second),
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8080", cfg.HTTPPort)
		cfg.HTTPPort = "8080"
	}
	if cfg.DatabaseDriver != "pgx" && cfg.DatabaseDriver != "sqlite" {
		log.Printf("unsupported DATABASE_DRIVER %q, defaulting to sqlite", cfg.DatabaseDriver)
		cfg.DatabaseDriver = "sqlite"
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s value %q, defaulting to %s", key, raw, fallback)
		return fallback
	}
	return d
}
