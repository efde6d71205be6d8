package sqlutil

import (
	"database/sql"
	"time"
)

// Helper functions for SQLite columns, which store booleans as integers and
// timestamps as RFC 3339 text.

// ToSqlBool converts a Go bool to an INTEGER column value
func ToSqlBool(val bool) int {
	if val {
		return 1
	}
	return 0
}

// FromSqlBool converts an INTEGER column value to a Go bool
func FromSqlBool(val int) bool {
	return val != 0
}

// ToSqlTime formats t in UTC so text ordering matches time ordering
func ToSqlTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FromSqlTime parses a TEXT timestamp, returning the zero time when it is malformed
func FromSqlTime(val string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FromSqlInt64 converts sql.NullInt64 to a Go int64 with default
func FromSqlInt64(val sql.NullInt64, defaultVal int64) int64 {
	if !val.Valid {
		return defaultVal
	}
	return val.Int64
}
