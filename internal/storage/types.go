package storage

import (
	"time"
)

// TimerRecord represents a per-app suppression window. The timer is valid
// while now is strictly before ExpiresAt.
type TimerRecord struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingExpiryRecord captures, once, that an app's bypass timer expired
// while the app was foreground. The value is never recomputed after capture.
type PendingExpiryRecord struct {
	ExpiredAt              time.Time `json:"expired_at"`
	ExpiredWhileForeground bool      `json:"expired_while_foreground"`
}

// Snapshot is the persisted scheduler state. It round-trips exactly through
// JSON; missing or unknown fields default to empty collections, never nil.
type Snapshot struct {
	Version           int64                          `json:"version"`
	BypassTimers      map[string]TimerRecord         `json:"bypass_timers"`
	IntentionTimers   map[string]TimerRecord         `json:"intention_timers"`
	QuotaUsageHistory []time.Time                    `json:"quota_usage_history"`
	PendingExpiry     map[string]PendingExpiryRecord `json:"pending_expiry"`
	LastForegroundApp string                         `json:"last_foreground_app,omitempty"`
	SavedAt           time.Time                      `json:"saved_at"`
}

// NewSnapshot returns an empty snapshot with all collections allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		BypassTimers:      make(map[string]TimerRecord),
		IntentionTimers:   make(map[string]TimerRecord),
		QuotaUsageHistory: make([]time.Time, 0),
		PendingExpiry:     make(map[string]PendingExpiryRecord),
	}
}

// Normalize replaces nil collections with empty ones so that a snapshot
// deserialized from a partial or corrupt payload never crashes the pipeline.
func (s *Snapshot) Normalize() {
	if s.BypassTimers == nil {
		s.BypassTimers = make(map[string]TimerRecord)
	}
	if s.IntentionTimers == nil {
		s.IntentionTimers = make(map[string]TimerRecord)
	}
	if s.QuotaUsageHistory == nil {
		s.QuotaUsageHistory = make([]time.Time, 0)
	}
	if s.PendingExpiry == nil {
		s.PendingExpiry = make(map[string]PendingExpiryRecord)
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Version:           s.Version,
		LastForegroundApp: s.LastForegroundApp,
		SavedAt:           s.SavedAt,
		BypassTimers:      make(map[string]TimerRecord, len(s.BypassTimers)),
		IntentionTimers:   make(map[string]TimerRecord, len(s.IntentionTimers)),
		QuotaUsageHistory: make([]time.Time, len(s.QuotaUsageHistory)),
		PendingExpiry:     make(map[string]PendingExpiryRecord, len(s.PendingExpiry)),
	}
	for k, v := range s.BypassTimers {
		c.BypassTimers[k] = v
	}
	for k, v := range s.IntentionTimers {
		c.IntentionTimers[k] = v
	}
	copy(c.QuotaUsageHistory, s.QuotaUsageHistory)
	for k, v := range s.PendingExpiry {
		c.PendingExpiry[k] = v
	}
	return c
}

// DecisionRecord is an audit entry for one engine decision.
type DecisionRecord struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"timestamp"`
	App            string    `json:"app"`
	Reason         string    `json:"reason"`
	Launched       bool      `json:"launched"`
	QuotaRemaining int       `json:"quota_remaining"`
}
