package sharedstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// MemoryHub is an in-process shared store. Every Open call returns a handle
// for one browsing context; all handles see the same keys.
type MemoryHub struct {
	mu       sync.Mutex
	entries  map[string]Entry
	watchers map[*memoryWatcher]struct{}
	clock    clockwork.Clock
}

func NewMemoryHub(clock clockwork.Clock) *MemoryHub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryHub{
		entries:  make(map[string]Entry),
		watchers: make(map[*memoryWatcher]struct{}),
		clock:    clock,
	}
}

// Open returns a store handle bound to origin.
func (h *MemoryHub) Open(origin string) Store {
	return &memoryStore{
		hub:    h,
		origin: origin,
		done:   make(chan struct{}),
	}
}

// Watchers returns the number of active Watch calls across all handles.
func (h *MemoryHub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *MemoryHub) get(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[key]
	return entry.Value, ok
}

func (h *MemoryHub) apply(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	change.At = h.clock.Now()
	if change.Deleted {
		if _, ok := h.entries[change.Key]; !ok {
			return
		}
		delete(h.entries, change.Key)
	} else {
		h.entries[change.Key] = Entry{
			Key:       change.Key,
			Value:     change.Value,
			Origin:    change.Origin,
			UpdatedAt: change.At,
		}
	}

	// Queued under the hub lock so every watcher sees one global order.
	for w := range h.watchers {
		if w.origin == change.Origin {
			continue
		}
		w.push(change)
	}
}

func (h *MemoryHub) addWatcher(origin string) *memoryWatcher {
	w := &memoryWatcher{
		origin: origin,
		notify: make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()
	return w
}

func (h *MemoryHub) removeWatcher(w *memoryWatcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
}

func (h *MemoryHub) Entries(ctx context.Context) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]Entry, 0, len(h.entries))
	for _, entry := range h.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// memoryWatcher queues changes without bounding them so a slow handler
// never blocks writers.
type memoryWatcher struct {
	origin  string
	mu      sync.Mutex
	pending []Change
	notify  chan struct{}
}

func (w *memoryWatcher) push(change Change) {
	w.mu.Lock()
	w.pending = append(w.pending, change)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) drain() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	changes := w.pending
	w.pending = nil
	return changes
}

type memoryStore struct {
	hub       *MemoryHub
	origin    string
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memoryStore) Origin() string {
	return s.origin
}

func (s *memoryStore) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed() {
		return "", false, ErrStoreClosed
	}
	value, ok := s.hub.get(key)
	return value, ok, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	if s.closed() {
		return ErrStoreClosed
	}
	s.hub.apply(Change{Key: key, Value: value, Origin: s.origin})
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	if s.closed() {
		return ErrStoreClosed
	}
	s.hub.apply(Change{Key: key, Deleted: true, Origin: s.origin})
	return nil
}

func (s *memoryStore) Watch(ctx context.Context, fn func(Change)) error {
	if s.closed() {
		return ErrStoreClosed
	}
	w := s.hub.addWatcher(s.origin)
	defer s.hub.removeWatcher(w)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-w.notify:
			for _, change := range w.drain() {
				fn(change)
			}
		}
	}
}

func (s *memoryStore) Entries(ctx context.Context) ([]Entry, error) {
	return s.hub.Entries(ctx)
}

func (s *memoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
