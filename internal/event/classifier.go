// Package event defines the mechanical event shapes and the classifier that
// performs the state writes they directly imply. The classifier never
// decides whether to launch anything; that is the scheduler engine's job,
// and only at UI-safe boundaries.
package event

import (
	"fmt"

	"github.com/goodtune/intentgate/internal/state"
	"github.com/rs/zerolog"
)

// Classifier applies an event's mechanical bookkeeping to the state.
type Classifier struct {
	logger zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

// Apply performs the state writes implied directly by the event. It returns
// an error only for events that fail Validate; malformed state entries are
// treated as absent.
func (c *Classifier) Apply(st *state.State, ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("classify event: %w", err)
	}

	switch ev.Kind {
	case KindForegroundChanged:
		c.applyForegroundChanged(st, ev)
	case KindTimerSet:
		c.applyTimerSet(st, ev)
	case KindTimerExpired:
		c.applyTimerExpired(st, ev)
	case KindUserInteraction:
		// A UI-safe boundary; no state write is implied.
	}
	return nil
}

// applyForegroundChanged updates the last-known foreground app and enforces
// the semantic-invalidation rule: a pending-expiry flag is valid only while
// the app it names remains foreground, so any flag naming a different app is
// deleted the moment foreground moves.
func (c *Classifier) applyForegroundChanged(st *state.State, ev Event) {
	for app := range st.PendingExpiry {
		if app != ev.App {
			delete(st.PendingExpiry, app)
			c.logger.Info().
				Str("app", app).
				Str("foreground", ev.App).
				Msg("Cleared pending expiry: foreground left the app")
		}
	}
	st.LastForegroundApp = ev.App
}

func (c *Classifier) applyTimerSet(st *state.State, ev Event) {
	timer := state.Timer{ExpiresAt: ev.ExpiresAt}
	switch ev.TimerKind {
	case TimerBypass:
		st.BypassTimers[ev.App] = timer
		// Bypass is the quota-consuming kind; the ledger is global.
		st.RecordQuotaUse(ev.Timestamp)
	case TimerIntention:
		st.IntentionTimers[ev.App] = timer
	}
	c.logger.Debug().
		Str("app", ev.App).
		Str("timer_kind", string(ev.TimerKind)).
		Time("expires_at", ev.ExpiresAt).
		Msg("Timer set")
}

// applyTimerExpired clears the timer and, for a bypass timer whose app is
// foreground at this exact instant, captures the pending-expiry flag. The
// capture is time-of-truth: taken once, never recomputed. No launch happens
// here; timer expiry is not a UI-safe boundary.
func (c *Classifier) applyTimerExpired(st *state.State, ev Event) {
	switch ev.TimerKind {
	case TimerBypass:
		if _, ok := st.BypassTimers[ev.App]; !ok {
			// Expiry for a timer we have no record of; treat as absent.
			c.logger.Warn().
				Str("app", ev.App).
				Msg("Bypass expiry for unknown timer, ignoring")
			return
		}
		delete(st.BypassTimers, ev.App)
		if st.LastForegroundApp == ev.App {
			st.PendingExpiry[ev.App] = state.PendingExpiry{
				ExpiredAt:              ev.Timestamp,
				ExpiredWhileForeground: true,
			}
			c.logger.Info().
				Str("app", ev.App).
				Time("expired_at", ev.Timestamp).
				Msg("Bypass expired while foreground; enforcement pending")
		}
	case TimerIntention:
		delete(st.IntentionTimers, ev.App)
		c.logger.Debug().
			Str("app", ev.App).
			Msg("Intention timer expired")
	}
}
