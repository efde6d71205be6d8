package sharedstore

import (
	"context"
	"fmt"
)

const (
	DriverMemory   = "memory"
	DriverNATS     = "nats"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver   string
	NATS     NATSConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

func DefaultConfig() Config {
	return Config{
		Driver:   DriverMemory,
		NATS:     DefaultNATSConfig(),
		Postgres: DefaultPostgresConfig(),
		SQLite:   DefaultSQLiteConfig(),
	}
}

// processHub backs the memory driver so handles opened in one process share state.
var processHub = NewMemoryHub(nil)

// Open returns a store handle for origin using the configured backend.
func Open(ctx context.Context, cfg Config, origin string) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return processHub.Open(origin), nil
	case DriverNATS:
		return OpenNATS(ctx, cfg.NATS, origin)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.Postgres, origin)
	case DriverSQLite:
		return OpenSQLite(cfg.SQLite, origin)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
