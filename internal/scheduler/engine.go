// Package scheduler contains the decision engine and the per-invocation
// pipeline that feeds it. The engine is the single authority permitted to
// produce a launch decision; every other component routes through it.
package scheduler

import (
	"time"

	"github.com/goodtune/intentgate/internal/state"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	// DefaultDecisionCacheSize bounds the per-event idempotency cache.
	DefaultDecisionCacheSize = 1024
	// DefaultDecisionCacheTTL bounds how long a decision stays replayable
	// for a re-delivered event.
	DefaultDecisionCacheTTL = 5 * time.Minute

	// UnlimitedQuotaRemaining is reported in place of a remaining count
	// when the quota is unlimited and no finite budget exists.
	UnlimitedQuotaRemaining = -1
)

// Engine evaluates the priority chain and returns one decision per event.
type Engine struct {
	quota  Quota
	clock  Clock
	recent *expirable.LRU[string, Decision]
	logger zerolog.Logger
}

// EngineConfig holds engine tuning.
type EngineConfig struct {
	Quota             Quota
	DecisionCacheSize int
	DecisionCacheTTL  time.Duration
}

// NewEngine creates a decision engine.
func NewEngine(cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.DecisionCacheSize == 0 {
		cfg.DecisionCacheSize = DefaultDecisionCacheSize
	}
	if cfg.DecisionCacheTTL == 0 {
		cfg.DecisionCacheTTL = DefaultDecisionCacheTTL
	}

	return &Engine{
		quota:  cfg.Quota,
		clock:  RealClock{},
		recent: expirable.NewLRU[string, Decision](cfg.DecisionCacheSize, nil, cfg.DecisionCacheTTL),
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// SetClock sets the clock for time-based evaluation (for testing).
func (e *Engine) SetClock(clock Clock) {
	e.clock = clock
}

// Quota returns the engine's quota configuration.
func (e *Engine) Quota() Quota {
	return e.quota
}

// QuotaRemaining computes the live remaining quota against the shared
// ledger, pruning stale entries. Unlimited quotas report
// UnlimitedQuotaRemaining; finite remainders never go below zero.
func (e *Engine) QuotaRemaining(st *state.State, now time.Time) int {
	if e.quota.Unlimited {
		return UnlimitedQuotaRemaining
	}
	used := st.LiveQuotaUses(now, e.quota.Window)
	remaining := e.quota.MaxUses - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Decide evaluates the priority chain for app at ts. It is total: malformed
// or missing entries are treated as absent and every failure degrades toward
// suppress, never toward a duplicate launch.
//
// The chain, highest priority first, each check short-circuiting:
//
//  1. Pending enforcement for a still-foreground app.
//  2. A valid intention timer suppresses.
//  3. Quota available: a valid bypass suppresses, otherwise offer one.
//  4. Quota exhausted: start an intervention and drop the app's stale
//     intention timer.
func (e *Engine) Decide(app string, ts time.Time, st *state.State) Decision {
	if st == nil || app == "" {
		return Decision{}
	}

	// 1. Pending enforcement. The flag is a user-facing promise already
	// shown once; it outranks a valid intention timer. Launching does not
	// clear it: only an explicit choice or the foreground-invalidation rule
	// does.
	if pe, ok := st.PendingExpiry[app]; ok && pe.ExpiredWhileForeground && st.LastForegroundApp == app {
		return Decision{
			Launch:         true,
			App:            app,
			Reason:         ReasonPostExpiryChoice,
			QuotaRemaining: e.QuotaRemaining(st, ts),
		}
	}

	// 2. Intention suppression.
	if t, ok := st.IntentionTimers[app]; ok && t.Valid(ts) {
		return Decision{QuotaRemaining: e.QuotaRemaining(st, ts)}
	}

	// 3. Quota check.
	remaining := e.QuotaRemaining(st, ts)
	if e.quota.Unlimited || remaining > 0 {
		if t, ok := st.BypassTimers[app]; ok && t.Valid(ts) {
			return Decision{QuotaRemaining: remaining}
		}
		return Decision{
			Launch:         true,
			App:            app,
			Reason:         ReasonOfferBypass,
			QuotaRemaining: remaining,
		}
	}

	// 4. Exhausted quota. A fresh intervention invalidates any stale
	// per-app suppression the user previously set.
	delete(st.IntentionTimers, app)
	return Decision{
		Launch:         true,
		App:            app,
		Reason:         ReasonStartIntervention,
		QuotaRemaining: remaining,
	}
}

// DecideEvent evaluates the chain for one mechanical event, idempotently: a
// re-delivered event ID replays the original decision instead of deciding
// again.
func (e *Engine) DecideEvent(eventID, app string, ts time.Time, st *state.State) (Decision, bool) {
	if eventID != "" {
		if cached, ok := e.recent.Get(eventID); ok {
			e.logger.Debug().
				Str("event_id", eventID).
				Str("app", app).
				Msg("Replaying cached decision for re-delivered event")
			return cached, true
		}
	}

	decision := e.Decide(app, ts, st)

	if eventID != "" {
		e.recent.Add(eventID, decision)
	}
	return decision, false
}
