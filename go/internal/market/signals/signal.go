package signals

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signal is the value written under a signal key. Its write, not its
// content, is the notification; Data is an optional payload.
type Signal struct {
	ID     string          `json:"id"`
	At     int64           `json:"at"` // unix milliseconds
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data,omitempty"`

	// Raw is the value as read from the store.
	Raw string `json:"-"`
}

func NewSignal(origin string, at time.Time, data any) (Signal, error) {
	sig := Signal{
		ID:     uuid.NewString(),
		At:     at.UnixMilli(),
		Origin: origin,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Signal{}, fmt.Errorf("encode signal data: %w", err)
		}
		sig.Data = raw
	}
	return sig, nil
}

func (s Signal) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode signal: %w", err)
	}
	return string(raw), nil
}

// Time returns At as a time.Time.
func (s Signal) Time() time.Time {
	return time.UnixMilli(s.At)
}

// Decode unmarshals the payload into out.
func (s Signal) Decode(out any) error {
	if len(s.Data) == 0 {
		return fmt.Errorf("signal %s has no data", s.ID)
	}
	return json.Unmarshal(s.Data, out)
}

// ParseSignal reads a stored value. Values not written as an envelope, such
// as a bare millisecond timestamp or an arbitrary JSON document, are wrapped
// with an empty origin.
func ParseSignal(value string) Signal {
	trimmed := strings.TrimSpace(value)

	if strings.HasPrefix(trimmed, "{") {
		var sig Signal
		if err := json.Unmarshal([]byte(trimmed), &sig); err == nil && sig.At != 0 && sig.ID != "" {
			sig.Raw = value
			return sig
		}
	}

	if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Signal{At: ms, Raw: value}
	}

	sig := Signal{Raw: value}
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		sig.Data = json.RawMessage(trimmed)
	} else if trimmed != "" {
		quoted, _ := json.Marshal(value)
		sig.Data = quoted
	}
	return sig
}
