package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"SECRET", "DATABASE_DRIVER", "DATABASE_DSN", "HTTP_PORT", "FEE_RULES_PATH", "SALE_TIMEOUT", "LOCK_TIMEOUT", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "dev_secret", cfg.Secret)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.SaleTimeout)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("SALE_TIMEOUT", "3s")
	t.Setenv("LOCK_TIMEOUT", "garbage")

	cfg := Load()
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.SaleTimeout)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DRIVER", "oracle")

	assert.Equal(t, "sqlite", Load().DatabaseDriver)
}
