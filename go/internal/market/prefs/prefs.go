package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
)

// SelfEchoWindow is how long a context treats the value it just wrote as its own.
const SelfEchoWindow = 500 * time.Millisecond

var (
	ErrUnknownPreference = errors.New("unknown preference")
	ErrInvalidValue      = errors.New("invalid preference value")
)

type Preference string

const (
	SortMode  Preference = "sortMode"
	ChartType Preference = "chartType"
	Theme     Preference = "theme"
)

type definition struct {
	key    string
	signal string
	// cycle is the toggle order; the first value is the default.
	cycle []string
}

var definitions = map[Preference]definition{
	SortMode:  {key: signals.KeySortMode, signal: signals.KeySortToggle, cycle: []string{"price", "alphabetical", "alcohol"}},
	ChartType: {key: signals.KeyChartType, signal: signals.KeyChartToggle, cycle: []string{"candlestick", "line"}},
	Theme:     {key: signals.KeyMainTheme, signal: signals.KeyThemeChange, cycle: []string{"dark", "light"}},
}

// All lists every preference in a stable order.
func All() []Preference {
	return []Preference{SortMode, ChartType, Theme}
}

// Default returns the value used when nothing valid is stored.
func Default(pref Preference) string {
	def, ok := definitions[pref]
	if !ok {
		return ""
	}
	return def.cycle[0]
}

// Values returns the allowed values of pref in toggle order.
func Values(pref Preference) []string {
	def, ok := definitions[pref]
	if !ok {
		return nil
	}
	return append([]string(nil), def.cycle...)
}

func (d definition) valid(value string) bool {
	for _, v := range d.cycle {
		if v == value {
			return true
		}
	}
	return false
}

func (d definition) next(value string) string {
	for i, v := range d.cycle {
		if v == value {
			return d.cycle[(i+1)%len(d.cycle)]
		}
	}
	return d.cycle[0]
}

// ChangeFunc is called whenever a preference's in-memory value changes.
type ChangeFunc func(pref Preference, value string)

// Reconciler keeps this context's preferences in step with the durable
// shared values. Local changes are written to the durable key and announced
// on the change signal; external changes are applied by re-reading the
// durable key, never from the signal payload.
type Reconciler struct {
	bus   *signals.Bus
	clock clockwork.Clock

	mu       sync.Mutex
	values   map[Preference]string
	echoes   map[Preference]string
	echoGen  map[Preference]uint64
	onChange ChangeFunc
}

func NewReconciler(bus *signals.Bus, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Reconciler{
		bus:     bus,
		clock:   clock,
		values:  make(map[Preference]string, len(definitions)),
		echoes:  make(map[Preference]string),
		echoGen: make(map[Preference]uint64),
	}
	for pref, def := range definitions {
		r.values[pref] = def.cycle[0]
	}
	return r
}

func (r *Reconciler) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Load reads every durable value. Missing or invalid values become defaults.
func (r *Reconciler) Load(ctx context.Context) error {
	for _, pref := range All() {
		value, err := r.readDurable(ctx, pref)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.values[pref] = value
		r.mu.Unlock()
	}
	log.Debug().
		Str("sort_mode", r.Value(SortMode)).
		Str("chart_type", r.Value(ChartType)).
		Str("theme", r.Value(Theme)).
		Msg("preferences loaded")
	return nil
}

func (r *Reconciler) Value(pref Preference) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[pref]
}

// Toggle advances pref to the next value in its cycle and returns it.
func (r *Reconciler) Toggle(ctx context.Context, pref Preference) (string, error) {
	def, ok := definitions[pref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPreference, pref)
	}
	next := def.next(r.Value(pref))
	if err := r.Set(ctx, pref, next); err != nil {
		return "", err
	}
	return next, nil
}

// Set stores value durably, updates this context and signals the others.
func (r *Reconciler) Set(ctx context.Context, pref Preference, value string) error {
	def, ok := definitions[pref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreference, pref)
	}
	if !def.valid(value) {
		return fmt.Errorf("%w: %s=%q", ErrInvalidValue, pref, value)
	}

	if err := r.bus.Store().Set(ctx, def.key, value); err != nil {
		return fmt.Errorf("store %s: %w", pref, err)
	}
	r.markEcho(pref, value)
	r.update(pref, value)

	if _, err := r.bus.Publish(ctx, def.signal, signals.PreferencePayload{Value: value}); err != nil {
		return fmt.Errorf("announce %s: %w", pref, err)
	}
	log.Info().Str("preference", string(pref)).Str("value", value).Msg("preference changed")
	return nil
}

// ApplyExternalChange handles a change signal for pref. Signals from this
// context, and echoes of a value it wrote within SelfEchoWindow, are ignored.
// It reports whether the in-memory value changed.
func (r *Reconciler) ApplyExternalChange(ctx context.Context, pref Preference, sig signals.Signal) (bool, error) {
	if _, ok := definitions[pref]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPreference, pref)
	}
	if sig.Origin != "" && sig.Origin == r.bus.Origin() {
		return false, nil
	}

	value, err := r.readDurable(ctx, pref)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	echo, pending := r.echoes[pref]
	r.mu.Unlock()
	if pending && echo == value {
		log.Debug().Str("preference", string(pref)).Msg("ignoring echo of own change")
		return false, nil
	}

	return r.update(pref, value), nil
}

// Subscribe registers the change-signal handlers on the bus.
func (r *Reconciler) Subscribe() (unsubscribe func()) {
	var unsubs []func()
	for _, pref := range All() {
		pref := pref
		unsubs = append(unsubs, r.bus.Subscribe(definitions[pref].signal, func(ctx context.Context, sig signals.Signal) {
			if _, err := r.ApplyExternalChange(ctx, pref, sig); err != nil {
				log.Warn().Err(err).Str("preference", string(pref)).Msg("failed to apply preference change")
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (r *Reconciler) readDurable(ctx context.Context, pref Preference) (string, error) {
	def := definitions[pref]
	value, ok, err := r.bus.Store().Get(ctx, def.key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pref, err)
	}
	if !ok || !def.valid(value) {
		if ok {
			log.Warn().Str("preference", string(pref)).Str("value", value).Msg("invalid stored preference, using default")
		}
		return def.cycle[0], nil
	}
	return value, nil
}

func (r *Reconciler) update(pref Preference, value string) bool {
	r.mu.Lock()
	changed := r.values[pref] != value
	r.values[pref] = value
	fn := r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(pref, value)
	}
	return changed
}

func (r *Reconciler) markEcho(pref Preference, value string) {
	r.mu.Lock()
	r.echoGen[pref]++
	gen := r.echoGen[pref]
	r.echoes[pref] = value
	r.mu.Unlock()

	r.clock.AfterFunc(SelfEchoWindow, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.echoGen[pref] == gen {
			delete(r.echoes, pref)
		}
	})
}
