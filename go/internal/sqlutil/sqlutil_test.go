package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

type counterQueries struct {
	tx *sql.Tx
}

func (q *counterQueries) bump(ctx context.Context) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE counter SET n = n + 1`)
	return err
}

func TestRunCommitsOrRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE counter (n INTEGER NOT NULL); INSERT INTO counter VALUES (0);`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	newQueries := func(tx *sql.Tx) *counterQueries { return &counterQueries{tx: tx} }

	if err := Run(ctx, db, newQueries, func(q *counterQueries) error { return q.bump(ctx) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	boom := errors.New("boom")
	err = Run(ctx, db, newQueries, func(q *counterQueries) error {
		if err := q.bump(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT n FROM counter`).Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1 (second bump rolled back)", n)
	}
}

func TestConverters(t *testing.T) {
	if ToSqlBool(true) != 1 || ToSqlBool(false) != 0 || !FromSqlBool(1) || FromSqlBool(0) {
		t.Fatalf("bool round trip broken")
	}

	at := time.Date(2025, 3, 1, 20, 15, 30, 250000000, time.FixedZone("CET", 3600))
	if got := FromSqlTime(ToSqlTime(at)); !got.Equal(at) {
		t.Fatalf("time = %v, want %v", got, at)
	}
	if !FromSqlTime("yesterday").IsZero() {
		t.Fatalf("malformed time should be zero")
	}

	if FromSqlInt64(sql.NullInt64{}, 7) != 7 || FromSqlInt64(sql.NullInt64{Int64: 3, Valid: true}, 7) != 3 {
		t.Fatalf("null int64 conversion broken")
	}
}
