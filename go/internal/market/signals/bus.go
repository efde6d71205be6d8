package signals

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

// Handler runs in the bus goroutine for every signal written by another context.
type Handler func(ctx context.Context, sig Signal)

// Bus is publish/subscribe over a shared store: a write is a publish and the
// store's change feed is the delivery. A context never receives its own
// writes, and deletes are never delivered.
type Bus struct {
	store sharedstore.Store
	clock clockwork.Clock

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

func NewBus(store sharedstore.Store, clock clockwork.Clock) *Bus {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bus{
		store:    store,
		clock:    clock,
		handlers: make(map[string]map[uint64]Handler),
	}
}

func (b *Bus) Origin() string {
	return b.store.Origin()
}

// Store exposes the underlying store for durable keys.
func (b *Bus) Store() sharedstore.Store {
	return b.store
}

// Publish writes a fresh signal under key. Repeating a publish always
// produces a new value, so observers are notified every time.
func (b *Bus) Publish(ctx context.Context, key string, data any) (Signal, error) {
	sig, err := NewSignal(b.Origin(), b.clock.Now(), data)
	if err != nil {
		return Signal{}, err
	}
	value, err := sig.Encode()
	if err != nil {
		return Signal{}, err
	}
	if err := b.store.Set(ctx, key, value); err != nil {
		return Signal{}, fmt.Errorf("publish %s: %w", key, err)
	}
	sig.Raw = value

	log.Debug().
		Str("key", key).
		Str("origin", sig.Origin).
		Str("signal_id", sig.ID).
		Msg("signal published")
	return sig, nil
}

// PublishOnce publishes and immediately deletes the key so a context that
// opens later does not replay it.
func (b *Bus) PublishOnce(ctx context.Context, key string, data any) (Signal, error) {
	sig, err := b.Publish(ctx, key, data)
	if err != nil {
		return Signal{}, err
	}
	if err := b.store.Delete(ctx, key); err != nil {
		return sig, fmt.Errorf("clear one-shot %s: %w", key, err)
	}
	return sig, nil
}

// Subscribe registers h for key and returns a function that removes it.
func (b *Bus) Subscribe(key string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[key] == nil {
		b.handlers[key] = make(map[uint64]Handler)
	}
	b.handlers[key][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[key], id)
		if len(b.handlers[key]) == 0 {
			delete(b.handlers, key)
		}
	}
}

// Run consumes the store change feed until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	log.Info().Str("origin", b.Origin()).Msg("signal bus started")
	err := b.store.Watch(ctx, func(change sharedstore.Change) {
		b.Dispatch(ctx, change)
	})
	log.Info().Str("origin", b.Origin()).Msg("signal bus stopped")
	return err
}

// Dispatch delivers one store change to the handlers subscribed to its key.
func (b *Bus) Dispatch(ctx context.Context, change sharedstore.Change) {
	if change.Deleted || change.Origin == b.Origin() {
		return
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[change.Key]))
	for _, h := range b.handlers[change.Key] {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	sig := ParseSignal(change.Value)
	if sig.Origin == b.Origin() {
		return
	}
	if sig.Origin == "" {
		sig.Origin = change.Origin
	}

	for _, h := range targets {
		b.invoke(ctx, change.Key, h, sig)
	}
}

func (b *Bus) invoke(ctx context.Context, key string, h Handler, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("key", key).
				Interface("panic", r).
				Msg("signal handler panicked")
		}
	}()
	h(ctx, sig)
}
