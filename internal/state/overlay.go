package state

import (
	"sync"

	"github.com/rs/zerolog"
)

// Field identifies which per-app map an override targets.
type Field int

const (
	FieldBypassTimer Field = iota
	FieldIntentionTimer
	FieldPendingExpiry
)

func (f Field) String() string {
	switch f {
	case FieldBypassTimer:
		return "bypass_timer"
	case FieldIntentionTimer:
		return "intention_timer"
	case FieldPendingExpiry:
		return "pending_expiry"
	default:
		return "unknown"
	}
}

type overrideKey struct {
	field Field
	app   string
}

type override struct {
	deleted bool
	timer   Timer
	// persistedVersion is zero until a save has written this override to
	// storage, then the version that save produced. A loaded snapshot at or
	// past that version already reflects the override.
	persistedVersion int64
}

// Overlay bridges the gap between a synchronous explicit user decision and
// the next Load, which may return a stale snapshot predating that decision.
// An overlay deletion always wins over a stale persisted presence; entries
// retire once a loaded snapshot provably reflects them.
type Overlay struct {
	mu        sync.Mutex
	overrides map[overrideKey]*override
	logger    zerolog.Logger
}

// NewOverlay creates an empty overlay.
func NewOverlay(logger zerolog.Logger) *Overlay {
	return &Overlay{
		overrides: make(map[overrideKey]*override),
		logger:    logger.With().Str("component", "overlay").Logger(),
	}
}

// RecordDelete notes that field[app] was removed, either by an explicit
// user choice or by a decision side effect. The deletion wins over any
// stale persisted presence until a save reflecting it is acknowledged.
func (o *Overlay) RecordDelete(field Field, app string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[overrideKey{field, app}] = &override{deleted: true}
	o.logger.Debug().
		Str("field", field.String()).
		Str("app", app).
		Msg("Recorded delete override")
}

// RecordSetTimer notes that the user's explicit choice wrote a timer for
// field[app]. Only timer fields accept writes; pending-expiry flags are
// never set by user choice, only cleared.
func (o *Overlay) RecordSetTimer(field Field, app string, t Timer) {
	if field == FieldPendingExpiry {
		o.logger.Error().
			Str("app", app).
			Msg("Ignoring set override for pending_expiry; flags are only cleared by choice")
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[overrideKey{field, app}] = &override{timer: t}
	o.logger.Debug().
		Str("field", field.String()).
		Str("app", app).
		Time("expires_at", t.ExpiresAt).
		Msg("Recorded timer override")
}

// Merge applies every override the loaded state does not yet reflect and
// retires those it does. Returns the number of overrides applied, which is
// also the number of stale-state races resolved by this merge.
func (o *Overlay) Merge(st *State) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	applied := 0
	for key, ov := range o.overrides {
		if ov.persistedVersion != 0 && st.Version >= ov.persistedVersion {
			// The snapshot was taken at or after the save that wrote this
			// override; nothing left to protect against.
			delete(o.overrides, key)
			continue
		}
		o.apply(st, key, ov)
		applied++
	}
	if applied > 0 {
		o.logger.Debug().
			Int("applied", applied).
			Int64("snapshot_version", st.Version).
			Msg("Merged overlay overrides into loaded state")
	}
	return applied
}

func (o *Overlay) apply(st *State, key overrideKey, ov *override) {
	switch key.field {
	case FieldBypassTimer:
		if ov.deleted {
			delete(st.BypassTimers, key.app)
		} else {
			st.BypassTimers[key.app] = ov.timer
		}
	case FieldIntentionTimer:
		if ov.deleted {
			delete(st.IntentionTimers, key.app)
		} else {
			st.IntentionTimers[key.app] = ov.timer
		}
	case FieldPendingExpiry:
		delete(st.PendingExpiry, key.app)
	}
}

// Ack marks every not-yet-acknowledged override as persisted at version.
// Call it after a successful Save whose snapshot included the overrides.
func (o *Overlay) Ack(version int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ov := range o.overrides {
		if ov.persistedVersion == 0 {
			ov.persistedVersion = version
		}
	}
}

// Len returns the number of live overrides.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.overrides)
}
