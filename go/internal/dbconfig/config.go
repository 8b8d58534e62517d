package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds history store connection settings.
type Config struct {
	Driver     string
	RawDSN     string
	SQLitePath string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads STORE_* and DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Driver:     getEnv("STORE_DRIVER", "sqlite"),
		RawDSN:     os.Getenv("STORE_DSN"),
		SQLitePath: getEnv("SQLITE_PATH", "doodle.db"),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       port,
		User:       getEnv("DB_USER", "postgres"),
		Password:   getEnv("DB_PASSWORD", "postgres"),
		Database:   getEnv("DB_NAME", "doodle"),
		SSLMode:    getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns STORE_DSN when set, otherwise a DSN built for the driver.
func (c Config) DSN() string {
	if c.RawDSN != "" {
		return c.RawDSN
	}
	switch c.Driver {
	case "postgres", "postgresql", "pq":
		return c.PostgresURL()
	}
	return c.SQLitePath
}

// PostgresURL returns the Postgres connection URL built from the DB_* settings.
func (c Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
