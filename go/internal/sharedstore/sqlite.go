package sharedstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/mcdev12/wallstreetbar/go/internal/sqlutil"
)

type SQLiteConfig struct {
	Path string
	// PollInterval is the fallback scan cadence when file notifications are missed.
	PollInterval time.Duration
	// RetainChanges bounds the change log kept for late watchers.
	RetainChanges int
}

func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:          "data/wallstreetbar.db",
		PollInterval:  2 * time.Second,
		RetainChanges: 1000,
	}
}

// sqliteStore shares state between processes on one host through a single
// database file. Every write appends to kv_changes; watchers tail that log.
type sqliteStore struct {
	db     *sql.DB
	cfg    SQLiteConfig
	origin string
}

// OpenSQLite opens or creates the database file and applies migrations.
func OpenSQLite(cfg SQLiteConfig, origin string) (Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer per process; cross-process contention is handled by busy_timeout
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db, cfg: cfg, origin: origin}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shared_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			origin TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv_changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			deleted INTEGER NOT NULL,
			origin TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) Origin() string {
	return s.origin
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM shared_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, Change{Key: key, Value: value, Origin: s.origin, At: time.Now()})
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, Change{Key: key, Deleted: true, Origin: s.origin, At: time.Now()})
}

// kvQueries is the write query set, bound to one transaction.
type kvQueries struct {
	tx *sql.Tx
}

func (q *kvQueries) upsert(ctx context.Context, change Change) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO shared_kv (key, value, origin, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, origin = excluded.origin, updated_at = excluded.updated_at`,
		change.Key, change.Value, change.Origin, sqlutil.ToSqlTime(change.At),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", change.Key, err)
	}
	return nil
}

// remove reports whether the key existed.
func (q *kvQueries) remove(ctx context.Context, key string) (bool, error) {
	res, err := q.tx.ExecContext(ctx, `DELETE FROM shared_kv WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *kvQueries) appendChange(ctx context.Context, change Change) (int64, error) {
	res, err := q.tx.ExecContext(ctx,
		`INSERT INTO kv_changes (key, value, deleted, origin, at) VALUES (?, ?, ?, ?, ?)`,
		change.Key, change.Value, sqlutil.ToSqlBool(change.Deleted), change.Origin, sqlutil.ToSqlTime(change.At),
	)
	if err != nil {
		return 0, fmt.Errorf("append change %s: %w", change.Key, err)
	}
	return res.LastInsertId()
}

func (q *kvQueries) pruneChanges(ctx context.Context, upTo int64) error {
	if _, err := q.tx.ExecContext(ctx, `DELETE FROM kv_changes WHERE seq <= ?`, upTo); err != nil {
		return fmt.Errorf("prune changes: %w", err)
	}
	return nil
}

func newKVQueries(tx *sql.Tx) *kvQueries {
	return &kvQueries{tx: tx}
}

// write applies the change and appends it to the change log atomically.
func (s *sqliteStore) write(ctx context.Context, change Change) error {
	return sqlutil.Run(ctx, s.db, newKVQueries, func(q *kvQueries) error {
		if change.Deleted {
			existed, err := q.remove(ctx, change.Key)
			if err != nil || !existed {
				return err
			}
		} else if err := q.upsert(ctx, change); err != nil {
			return err
		}

		seq, err := q.appendChange(ctx, change)
		if err != nil {
			return err
		}
		if s.cfg.RetainChanges > 0 {
			return q.pruneChanges(ctx, seq-int64(s.cfg.RetainChanges))
		}
		return nil
	})
}

func (s *sqliteStore) lastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM kv_changes`).Scan(&seq); err != nil {
		return 0, err
	}
	return sqlutil.FromSqlInt64(seq, 0), nil
}

func (s *sqliteStore) changesSince(ctx context.Context, seq int64) ([]Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, key, value, deleted, origin, at FROM kv_changes WHERE seq > ? ORDER BY seq`, seq)
	if err != nil {
		return nil, seq, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			change  Change
			deleted int
			at      string
		)
		if err := rows.Scan(&seq, &change.Key, &change.Value, &deleted, &change.Origin, &at); err != nil {
			return nil, seq, err
		}
		change.Deleted = sqlutil.FromSqlBool(deleted)
		change.At = sqlutil.FromSqlTime(at)
		changes = append(changes, change)
	}
	return changes, seq, rows.Err()
}

// Watch tails kv_changes whenever the database or its WAL is written, with a
// periodic scan as a fallback.
func (s *sqliteStore) Watch(ctx context.Context, fn func(Change)) error {
	cursor, err := s.lastSeq(ctx)
	if err != nil {
		return fmt.Errorf("read change cursor: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	dbFile := filepath.Base(s.cfg.Path)
	if err := watcher.Add(filepath.Dir(s.cfg.Path)); err != nil {
		log.Warn().Err(err).Str("path", s.cfg.Path).Msg("file notifications unavailable, polling only")
	}

	pollInterval := s.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	scan := func() {
		changes, next, err := s.changesSince(ctx, cursor)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to read shared store changes")
			}
			return
		}
		cursor = next
		for _, change := range changes {
			if change.Origin == s.origin {
				continue
			}
			fn(change)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return ErrStoreClosed
			}
			if !strings.HasPrefix(filepath.Base(event.Name), dbFile) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				scan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return ErrStoreClosed
			}
			log.Warn().Err(err).Msg("file watcher error")
		case <-poll.C:
			scan()
		}
	}
}

func (s *sqliteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, origin, updated_at FROM shared_kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			at    string
		)
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Origin, &at); err != nil {
			return nil, err
		}
		entry.UpdatedAt = sqlutil.FromSqlTime(at)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
