package sharedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

type PostgresConfig struct {
	DatabaseURL   string        // Postgres DSN for the pool and LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // Keepalive for the listener connection
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		NotifyChannel: "shared_kv_changes",
		PingInterval:  90 * time.Second,
	}
}

type postgresStore struct {
	pool     *pgxpool.Pool
	cfg      PostgresConfig
	origin   string
	metadata pqtype.NullRawMessage
}

type notifyPayload struct {
	Key     string    `json:"key"`
	Value   string    `json:"value"`
	Deleted bool      `json:"deleted"`
	Origin  string    `json:"origin"`
	At      time.Time `json:"at"`
}

// OpenPostgres connects a pool, applies migrations and returns a store handle.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, origin string) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &postgresStore{
		pool:     pool,
		cfg:      cfg,
		origin:   origin,
		metadata: writerMetadata(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func writerMetadata() pqtype.NullRawMessage {
	host, _ := os.Hostname()
	raw, err := json.Marshal(map[string]any{"host": host, "pid": os.Getpid()})
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

func (s *postgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shared_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			origin TEXT NOT NULL,
			metadata JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate shared_kv: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) Origin() string {
	return s.origin
}

func (s *postgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM shared_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the row and notifies in the same transaction so listeners only
// hear about committed writes.
func (s *postgresStore) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO shared_kv (key, value, origin, metadata, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (key) DO UPDATE
			 SET value = EXCLUDED.value, origin = EXCLUDED.origin,
			     metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
			key, value, s.origin, s.metadata, now,
		)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return s.notify(ctx, tx, notifyPayload{Key: key, Value: value, Origin: s.origin, At: now})
	})
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM shared_kv WHERE key = $1`, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.notify(ctx, tx, notifyPayload{Key: key, Deleted: true, Origin: s.origin, At: now})
	})
}

func (s *postgresStore) notify(ctx context.Context, tx pgx.Tx, payload notifyPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.NotifyChannel, string(data)); err != nil {
		return fmt.Errorf("notify %s: %w", payload.Key, err)
	}
	return nil
}

// Watch listens on the notify channel through a dedicated lib/pq listener.
func (s *postgresStore) Watch(ctx context.Context, fn func(Change)) error {
	l := pq.NewListener(
		s.cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("shared store listener event")
			}
		},
	)
	defer l.Close()

	if err := l.Listen(s.cfg.NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen to channel: %w", err)
	}

	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 90 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-l.Notify:
			if note == nil {
				// connection was re-established; changes in between are lost
				continue
			}
			var payload notifyPayload
			if err := json.Unmarshal([]byte(note.Extra), &payload); err != nil {
				log.Warn().Err(err).Msg("skipping malformed shared store notification")
				continue
			}
			if payload.Origin == s.origin {
				continue
			}
			fn(Change{
				Key:     payload.Key,
				Value:   payload.Value,
				Deleted: payload.Deleted,
				Origin:  payload.Origin,
				At:      payload.At,
			})
		case <-pingTicker.C:
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *postgresStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, origin, metadata, updated_at FROM shared_kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			metadata pqtype.NullRawMessage
		)
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Origin, &metadata, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			entry.Metadata = metadata.RawMessage
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
