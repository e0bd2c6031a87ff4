// Package state holds the working form of the scheduler state. Every
// invocation reconstructs a State from the last persisted snapshot; nothing
// in this package survives between invocations except through the Overlay.
package state

import (
	"time"

	"github.com/goodtune/intentgate/internal/storage"
)

// Timer is a per-app suppression window.
type Timer struct {
	ExpiresAt time.Time
}

// Valid reports whether the timer is still suppressing at now.
func (t Timer) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// PendingExpiry is the captured fact that an app's bypass timer expired
// while the app was foreground. Captured once, never recomputed.
type PendingExpiry struct {
	ExpiredAt              time.Time
	ExpiredWhileForeground bool
}

// State is the full scheduler state for one invocation. It is a plain value
// passed through load → merge → classify/decide → save; there are no
// module-level mutable singletons behind it.
type State struct {
	Version           int64
	BypassTimers      map[string]Timer
	IntentionTimers   map[string]Timer
	QuotaUsageHistory []time.Time
	PendingExpiry     map[string]PendingExpiry
	LastForegroundApp string
}

// New returns an empty state with all collections allocated.
func New() *State {
	return &State{
		BypassTimers:      make(map[string]Timer),
		IntentionTimers:   make(map[string]Timer),
		QuotaUsageHistory: make([]time.Time, 0),
		PendingExpiry:     make(map[string]PendingExpiry),
	}
}

// FromSnapshot builds a working state from a persisted snapshot. A nil
// snapshot and missing collections both yield empty state rather than an
// error: malformed persisted state degrades to "nothing recorded".
func FromSnapshot(snap *storage.Snapshot) *State {
	st := New()
	if snap == nil {
		return st
	}
	st.Version = snap.Version
	st.LastForegroundApp = snap.LastForegroundApp
	for app, rec := range snap.BypassTimers {
		st.BypassTimers[app] = Timer{ExpiresAt: rec.ExpiresAt}
	}
	for app, rec := range snap.IntentionTimers {
		st.IntentionTimers[app] = Timer{ExpiresAt: rec.ExpiresAt}
	}
	st.QuotaUsageHistory = append(st.QuotaUsageHistory, snap.QuotaUsageHistory...)
	for app, rec := range snap.PendingExpiry {
		st.PendingExpiry[app] = PendingExpiry{
			ExpiredAt:              rec.ExpiredAt,
			ExpiredWhileForeground: rec.ExpiredWhileForeground,
		}
	}
	return st
}

// Snapshot converts the state back to its persisted form. The Version field
// carries the version the state was loaded at; the store bumps it on save.
func (s *State) Snapshot() *storage.Snapshot {
	snap := storage.NewSnapshot()
	snap.Version = s.Version
	snap.LastForegroundApp = s.LastForegroundApp
	for app, t := range s.BypassTimers {
		snap.BypassTimers[app] = storage.TimerRecord{ExpiresAt: t.ExpiresAt}
	}
	for app, t := range s.IntentionTimers {
		snap.IntentionTimers[app] = storage.TimerRecord{ExpiresAt: t.ExpiresAt}
	}
	snap.QuotaUsageHistory = append(snap.QuotaUsageHistory, s.QuotaUsageHistory...)
	for app, p := range s.PendingExpiry {
		snap.PendingExpiry[app] = storage.PendingExpiryRecord{
			ExpiredAt:              p.ExpiredAt,
			ExpiredWhileForeground: p.ExpiredWhileForeground,
		}
	}
	return snap
}

// PruneQuota drops ledger entries that have aged out of the rolling window.
// The window is half-open: an entry exactly window old is expired. Pruned
// entries are gone for good; consistency is computed fresh on every read.
func (s *State) PruneQuota(now time.Time, window time.Duration) {
	live := s.QuotaUsageHistory[:0]
	for _, ts := range s.QuotaUsageHistory {
		if now.Sub(ts) < window {
			live = append(live, ts)
		}
	}
	s.QuotaUsageHistory = live
}

// LiveQuotaUses returns the number of ledger entries still inside the
// rolling window at now, pruning stale ones as a side effect.
func (s *State) LiveQuotaUses(now time.Time, window time.Duration) int {
	s.PruneQuota(now, window)
	return len(s.QuotaUsageHistory)
}

// RecordQuotaUse appends one consumption of the shared quota. The ledger is
// global across all apps.
func (s *State) RecordQuotaUse(ts time.Time) {
	s.QuotaUsageHistory = append(s.QuotaUsageHistory, ts)
}
