package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the four mechanical event shapes the OS observer
// emits. Semantics are never inferred from timing or duration; timer events
// carry an explicit TimerKind.
type Kind string

const (
	KindForegroundChanged Kind = "FOREGROUND_CHANGED"
	KindTimerSet          Kind = "TIMER_SET"
	KindTimerExpired      Kind = "TIMER_EXPIRED"
	KindUserInteraction   Kind = "USER_INTERACTION"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the kind to
// uppercase.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Kind(strings.ToUpper(s))
	switch normalized {
	case KindForegroundChanged, KindTimerSet, KindTimerExpired, KindUserInteraction:
		*k = normalized
		return nil
	default:
		return fmt.Errorf("invalid event kind: %s", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// TimerKind discriminates the two timer maps. Bypass timers consume the
// shared quota; intention timers do not.
type TimerKind string

const (
	TimerBypass    TimerKind = "BYPASS"
	TimerIntention TimerKind = "INTENTION"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the timer kind to
// uppercase.
func (t *TimerKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := TimerKind(strings.ToUpper(s))
	switch normalized {
	case TimerBypass, TimerIntention:
		*t = normalized
		return nil
	default:
		return fmt.Errorf("invalid timer kind: %s (must be BYPASS or INTENTION)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (t TimerKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// Event is one mechanical event from the OS observer.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	App       string    `json:"app"`
	Timestamp time.Time `json:"timestamp"`
	TimerKind TimerKind `json:"timer_kind,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// UISafe reports whether a launch decision may be made in response to this
// event. Timer expiry is not a UI-safe boundary: the hosting UI context may
// not exist at that instant, so expiry only writes state and the decision is
// deferred to the next foreground change or user interaction.
func (e Event) UISafe() bool {
	return e.Kind == KindForegroundChanged || e.Kind == KindUserInteraction
}

// Validate checks the event carries the fields its kind requires.
func (e Event) Validate() error {
	switch e.Kind {
	case KindForegroundChanged, KindTimerSet, KindTimerExpired, KindUserInteraction:
	default:
		return fmt.Errorf("invalid event kind: %q", e.Kind)
	}
	if e.App == "" {
		return fmt.Errorf("event %s missing app", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s missing timestamp", e.Kind)
	}
	switch e.Kind {
	case KindTimerSet:
		if e.TimerKind != TimerBypass && e.TimerKind != TimerIntention {
			return fmt.Errorf("TIMER_SET requires an explicit timer kind")
		}
		if e.ExpiresAt.IsZero() {
			return fmt.Errorf("TIMER_SET requires expires_at")
		}
	case KindTimerExpired:
		if e.TimerKind != TimerBypass && e.TimerKind != TimerIntention {
			return fmt.Errorf("TIMER_EXPIRED requires an explicit timer kind")
		}
	}
	return nil
}
