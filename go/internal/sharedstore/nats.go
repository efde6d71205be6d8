package sharedstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the JetStream key-value backend.
type NATSConfig struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default JetStream key-value configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "wallstreetbar_tabs",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type natsStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	origin string
	cfg    NATSConfig
}

// OpenNATS connects to NATS and binds (creating if needed) the key-value bucket.
func OpenNATS(ctx context.Context, cfg NATSConfig, origin string) (Store, error) {
	opts := []nats.Option{
		nats.Name("wallstreetbar-" + origin),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "wall street bar shared tab state",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind key-value bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("origin", origin).
		Msg("shared store bound to NATS key-value bucket")

	return &natsStore{nc: nc, kv: kv, origin: origin, cfg: cfg}, nil
}

func (s *natsStore) Origin() string {
	return s.origin
}

func (s *natsStore) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return "", false, err
	}
	return env.Value, true, nil
}

func (s *natsStore) Set(ctx context.Context, key, value string) error {
	data, err := encodeEnvelope(s.origin, value, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Watch relays bucket updates. Deletes carry no envelope, so their origin is
// unknown and they are reported to every watcher.
func (s *natsStore) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("watch bucket %s: %w", s.cfg.Bucket, err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			log.Debug().Err(err).Msg("failed to stop key-value watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				return ErrStoreClosed
			}
			if entry == nil {
				continue
			}
			change, ok := s.toChange(entry)
			if !ok || change.Origin == s.origin {
				continue
			}
			fn(change)
		}
	}
}

func (s *natsStore) toChange(entry jetstream.KeyValueEntry) (Change, bool) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Change{Key: entry.Key(), Deleted: true, At: entry.Created()}, true
	}

	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		log.Warn().Err(err).Str("key", entry.Key()).Msg("skipping malformed key-value entry")
		return Change{}, false
	}
	return Change{
		Key:    entry.Key(),
		Value:  env.Value,
		Origin: env.Origin,
		At:     env.At,
	}, true
}

func (s *natsStore) Entries(ctx context.Context) ([]Entry, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var entries []Entry
	for key := range lister.Keys() {
		kve, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		env, err := decodeEnvelope(kve.Value())
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: env.Value, Origin: env.Origin, UpdatedAt: env.At})
	}
	return entries, nil
}

// Connected reports whether the underlying NATS connection is up.
func (s *natsStore) Connected() bool {
	return s.nc.IsConnected()
}

func (s *natsStore) Close() error {
	s.nc.Close()
	return nil
}
