package sharedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrStoreClosed   = errors.New("shared store closed")
	ErrUnknownDriver = errors.New("unknown shared store driver")
)

// Change is a single write or delete observed on the store.
type Change struct {
	Key     string
	Value   string
	Deleted bool
	Origin  string
	At      time.Time
}

// Store is a last-write-wins key-value register shared by every browsing
// context. Each handle is bound to an origin; Watch never reports changes
// written through a handle with the same origin.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Watch calls fn for every change made by other origins after Watch was
	// entered, in the order each writer issued them. It blocks until ctx is
	// done or the store is closed.
	Watch(ctx context.Context, fn func(Change)) error
	Origin() string
	Close() error
}

// Entry is the stored state of one key, for diagnostics.
type Entry struct {
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	Origin    string          `json:"origin"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Lister is implemented by backends that can enumerate their keys.
type Lister interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// envelope is how backends without an origin column carry one.
type envelope struct {
	Origin string    `json:"origin"`
	Value  string    `json:"value"`
	At     time.Time `json:"at"`
}

func encodeEnvelope(origin, value string, at time.Time) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Value: value, At: at})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
