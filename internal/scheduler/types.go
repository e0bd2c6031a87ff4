package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidChoice marks a malformed user choice, rejected before any state
// change. Callers match it with errors.Is.
var ErrInvalidChoice = errors.New("invalid choice")

// Reason identifies why a launch decision was made.
type Reason string

const (
	// ReasonPostExpiryChoice asks the user to resolve a bypass that expired
	// while the app was foreground.
	ReasonPostExpiryChoice Reason = "POST_EXPIRY_CHOICE"
	// ReasonOfferBypass offers a short quota-consuming exception.
	ReasonOfferBypass Reason = "OFFER_BYPASS"
	// ReasonStartIntervention launches the full interruption flow.
	ReasonStartIntervention Reason = "START_INTERVENTION"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the reason to
// uppercase.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Reason(strings.ToUpper(s))
	switch normalized {
	case ReasonPostExpiryChoice, ReasonOfferBypass, ReasonStartIntervention:
		*r = normalized
		return nil
	default:
		return fmt.Errorf("invalid launch reason: %s", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// Decision is the engine's answer for one event: either do nothing or
// request the host to bring up an exclusive surface for (app, reason).
type Decision struct {
	Launch         bool   `json:"launch"`
	App            string `json:"app,omitempty"`
	Reason         Reason `json:"reason,omitempty"`
	QuotaRemaining int    `json:"quota_remaining"`
}

// Quota is the shared, rolling-window bypass budget. Unlimited is a
// distinct variant, not a large finite count: when set, the exhaustion arm
// of the decision chain is unreachable while the ledger keeps recording uses
// for the audit log.
type Quota struct {
	MaxUses   int
	Window    time.Duration
	Unlimited bool
}

// Choice is an explicit user decision reported back by the UI surface.
type Choice struct {
	App       string        `json:"app"`
	Kind      ChoiceKind    `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. The duration is accepted
// either as a Go duration string ("15m") or as nanoseconds.
func (c *Choice) UnmarshalJSON(data []byte) error {
	type alias Choice
	aux := struct {
		Duration json.RawMessage `json:"duration,omitempty"`
		*alias
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Duration) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(aux.Duration, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", s)
		}
		c.Duration = d
		return nil
	}

	var nanos int64
	if err := json.Unmarshal(aux.Duration, &nanos); err != nil {
		return fmt.Errorf("invalid duration: %s", string(aux.Duration))
	}
	c.Duration = time.Duration(nanos)
	return nil
}

// ChoiceKind discriminates the explicit user choices a surface can report.
type ChoiceKind string

const (
	// ChoiceDismiss resolves a pending enforcement without further
	// suppression; the next UI-safe event falls through to quota logic.
	ChoiceDismiss ChoiceKind = "DISMISS"
	// ChoiceDeclareIntention resolves a pending enforcement by declaring
	// continued use for Choice.Duration.
	ChoiceDeclareIntention ChoiceKind = "DECLARE_INTENTION"
	// ChoiceLeaveApp reports the user chose to stop using the app; any
	// pending enforcement and intention timer for it are dropped.
	ChoiceLeaveApp ChoiceKind = "LEAVE_APP"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the choice kind to
// uppercase.
func (c *ChoiceKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := ChoiceKind(strings.ToUpper(s))
	switch normalized {
	case ChoiceDismiss, ChoiceDeclareIntention, ChoiceLeaveApp:
		*c = normalized
		return nil
	default:
		return fmt.Errorf("invalid choice kind: %s", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (c ChoiceKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}
