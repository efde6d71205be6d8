package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds connection settings for the Postgres-backed shared store.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
}

// NewConfigFromEnv reads STORE_DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("STORE_DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Host:            getEnv("STORE_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnv("STORE_DB_USER", "postgres"),
		Password:        getEnv("STORE_DB_PASSWORD", "postgres"),
		Database:        getEnv("STORE_DB_NAME", "wallstreetbar"),
		SSLMode:         getEnv("STORE_DB_SSLMODE", "disable"),
		ApplicationName: getEnv("STORE_DB_APPLICATION_NAME", "wallstreetbar"),
	}
}

// DSN returns the Postgres connection URL. Credentials are escaped so it is
// accepted by both pgx and lib/pq.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
