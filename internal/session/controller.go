// Package session enforces the single-exclusive-surface invariant for
// whatever UI is launched as a result of a decision. At most one session is
// live system-wide, independent of which app it names.
package session

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Reason labels why a session was launched. The controller treats it as
// opaque; callers supply their own vocabulary.
type Reason string

// Phase is the controller's lifecycle phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseFinishing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// InvariantViolationError reports an illegal transition. It is logged
// loudly and rejected, never silently absorbed: a silent ignore is
// indistinguishable from correctness.
type InvariantViolationError struct {
	Op    string
	Phase Phase
	App   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("session invariant violation: %s while %s (app %q)", e.Op, e.Phase, e.App)
}

// FinishFunc receives exactly one finish signal per session, releasing
// exclusive UI ownership back to the host surface.
type FinishFunc func(app string, reason Reason)

// Controller is the session lifecycle state machine:
// Idle → Active (Launch) → Finishing (End, one finish signal) → Idle
// (Finished).
type Controller struct {
	mu         sync.Mutex
	phase      Phase
	app        string
	reason     Reason
	prevReason Reason
	finish     FinishFunc
	logger     zerolog.Logger
}

// NewController creates an idle controller. finish may be nil.
func NewController(finish FinishFunc, logger zerolog.Logger) *Controller {
	return &Controller{
		phase:  PhaseIdle,
		finish: finish,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Launch takes exclusive UI ownership for (app, reason). It is only legal
// from Idle; any other phase is a contract violation.
func (c *Controller) Launch(app string, reason Reason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		err := &InvariantViolationError{Op: "launch", Phase: c.phase, App: app}
		c.logger.Error().
			Str("phase", c.phase.String()).
			Str("app", app).
			Str("active_app", c.app).
			Str("reason", string(reason)).
			Msg("Rejected launch: a session is already live")
		return err
	}

	c.phase = PhaseActive
	c.app = app
	c.prevReason = ""
	c.reason = reason
	c.logger.Info().
		Str("app", app).
		Str("reason", string(reason)).
		Msg("Session launched")
	return nil
}

// Replace swaps the active session's purpose without the surface ever
// losing foreground. This is an internal transition, detected by comparing
// the previous session kind to the new one, and must not trigger the
// teardown path: no finish signal is emitted.
func (c *Controller) Replace(app string, reason Reason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseActive {
		err := &InvariantViolationError{Op: "replace", Phase: c.phase, App: app}
		c.logger.Error().
			Str("phase", c.phase.String()).
			Str("app", app).
			Msg("Rejected replace: no active session")
		return err
	}

	c.prevReason = c.reason
	c.app = app
	c.reason = reason
	c.logger.Info().
		Str("app", app).
		Str("from", string(c.prevReason)).
		Str("to", string(reason)).
		Msg("Session replaced internally")
	return nil
}

// End transitions Active → Finishing and emits exactly one finish signal,
// synchronously, before any persistence the caller may run afterward. A
// second End while Finishing is a no-op, not an error. End while Idle is a
// contract violation.
func (c *Controller) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseFinishing:
		// Idempotent.
		c.logger.Debug().Str("app", c.app).Msg("End while finishing, no-op")
		return nil
	case PhaseIdle:
		err := &InvariantViolationError{Op: "end", Phase: c.phase}
		c.logger.Error().Msg("Rejected end: no session live")
		return err
	}

	c.phase = PhaseFinishing
	app, reason := c.app, c.reason
	c.logger.Info().
		Str("app", app).
		Str("reason", string(reason)).
		Msg("Session finishing")
	if c.finish != nil {
		c.finish(app, reason)
	}
	return nil
}

// Finished completes teardown, Finishing → Idle. Calling it from any other
// phase is a contract violation.
func (c *Controller) Finished() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseFinishing {
		err := &InvariantViolationError{Op: "finished", Phase: c.phase}
		c.logger.Error().
			Str("phase", c.phase.String()).
			Msg("Rejected finished: session is not finishing")
		return err
	}

	c.logger.Debug().Str("app", c.app).Msg("Session idle")
	c.phase = PhaseIdle
	c.app = ""
	c.reason = ""
	c.prevReason = ""
	return nil
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Current returns the live session's app and reason, or ok=false when idle.
func (c *Controller) Current() (app string, reason Reason, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle {
		return "", "", false
	}
	return c.app, c.reason, true
}
