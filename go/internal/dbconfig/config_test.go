package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "doodle")
	t.Setenv("DB_PASSWORD", "p@ss")
	t.Setenv("DB_NAME", "art")

	cfg := NewConfigFromEnv()
	assert.Equal(t, "postgres://doodle:p%40ss@db:6543/art?sslmode=disable", cfg.DSN())
}

func TestDSNDefaultsToSQLite(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("STORE_DSN", "")
	t.Setenv("SQLITE_PATH", "")

	cfg := NewConfigFromEnv()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "doodle.db", cfg.DSN())
}

func TestExplicitDSNWins(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "postgres://elsewhere/db")

	assert.Equal(t, "postgres://elsewhere/db", NewConfigFromEnv().DSN())
}
