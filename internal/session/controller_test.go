package session

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

const (
	appX = "com.example.feed"
	appY = "com.example.video"

	ReasonOfferBypass       Reason = "OFFER_BYPASS"
	ReasonStartIntervention Reason = "START_INTERVENTION"
	ReasonPostExpiryChoice  Reason = "POST_EXPIRY_CHOICE"
)

func newTestController(finish FinishFunc) *Controller {
	return NewController(finish, zerolog.Nop())
}

func TestLaunchFromIdle(t *testing.T) {
	c := newTestController(nil)

	if err := c.Launch(appX, ReasonOfferBypass); err != nil {
		t.Fatalf("launch from idle: %v", err)
	}
	if c.Phase() != PhaseActive {
		t.Errorf("expected active, got %s", c.Phase())
	}

	app, reason, ok := c.Current()
	if !ok || app != appX || reason != ReasonOfferBypass {
		t.Errorf("unexpected current session: %s %s %v", app, reason, ok)
	}
}

// launch() is never legal while a session is live, regardless of entity.
func TestLaunchWhileActiveRejected(t *testing.T) {
	c := newTestController(nil)
	if err := c.Launch(appX, ReasonOfferBypass); err != nil {
		t.Fatalf("launch: %v", err)
	}

	err := c.Launch(appY, ReasonStartIntervention)
	var violation *InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}

	// No state change: the original session is untouched.
	app, reason, _ := c.Current()
	if app != appX || reason != ReasonOfferBypass {
		t.Errorf("rejected launch mutated state: %s %s", app, reason)
	}
}

func TestLaunchWhileFinishingRejected(t *testing.T) {
	c := newTestController(nil)
	_ = c.Launch(appX, ReasonOfferBypass)
	_ = c.End()

	var violation *InvariantViolationError
	if err := c.Launch(appY, ReasonOfferBypass); !errors.As(err, &violation) {
		t.Errorf("expected InvariantViolationError, got %v", err)
	}
}

func TestEndEmitsExactlyOneFinishSignal(t *testing.T) {
	signals := 0
	c := newTestController(func(app string, reason Reason) {
		signals++
		if app != appX || reason != ReasonStartIntervention {
			t.Errorf("finish signal carried %s/%s", app, reason)
		}
	})

	_ = c.Launch(appX, ReasonStartIntervention)
	if err := c.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	// Idempotent second end.
	if err := c.End(); err != nil {
		t.Fatalf("second end must be a no-op, got %v", err)
	}

	if signals != 1 {
		t.Errorf("expected exactly one finish signal, got %d", signals)
	}
	if c.Phase() != PhaseFinishing {
		t.Errorf("expected finishing, got %s", c.Phase())
	}
}

func TestEndWhileIdleRejected(t *testing.T) {
	c := newTestController(nil)
	var violation *InvariantViolationError
	if err := c.End(); !errors.As(err, &violation) {
		t.Errorf("expected InvariantViolationError, got %v", err)
	}
}

func TestFullLifecycleReturnsToIdle(t *testing.T) {
	c := newTestController(nil)
	_ = c.Launch(appX, ReasonOfferBypass)
	_ = c.End()
	if err := c.Finished(); err != nil {
		t.Fatalf("finished: %v", err)
	}
	if c.Phase() != PhaseIdle {
		t.Errorf("expected idle, got %s", c.Phase())
	}
	// A new session is legal again.
	if err := c.Launch(appY, ReasonStartIntervention); err != nil {
		t.Errorf("relaunch after full lifecycle: %v", err)
	}
}

// An internal replace swaps the session purpose without tearing down.
func TestReplaceDoesNotSignalFinish(t *testing.T) {
	signals := 0
	c := newTestController(func(string, Reason) { signals++ })

	_ = c.Launch(appX, ReasonPostExpiryChoice)
	if err := c.Replace(appX, ReasonStartIntervention); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if signals != 0 {
		t.Error("internal replace must not trigger the teardown path")
	}
	app, reason, _ := c.Current()
	if app != appX || reason != ReasonStartIntervention {
		t.Errorf("replace did not update session: %s %s", app, reason)
	}
	if c.Phase() != PhaseActive {
		t.Errorf("expected active after replace, got %s", c.Phase())
	}
}

func TestReplaceOutsideActiveRejected(t *testing.T) {
	c := newTestController(nil)
	var violation *InvariantViolationError
	if err := c.Replace(appX, ReasonOfferBypass); !errors.As(err, &violation) {
		t.Errorf("replace from idle: expected InvariantViolationError, got %v", err)
	}

	_ = c.Launch(appX, ReasonOfferBypass)
	_ = c.End()
	if err := c.Replace(appX, ReasonStartIntervention); !errors.As(err, &violation) {
		t.Errorf("replace while finishing: expected InvariantViolationError, got %v", err)
	}
}

// Enumerate every (phase, operation) pair and verify exactly the legal set
// is accepted.
func TestTransitionTable(t *testing.T) {
	type op int
	const (
		opLaunch op = iota
		opReplace
		opEnd
		opFinished
	)
	opNames := map[op]string{opLaunch: "launch", opReplace: "replace", opEnd: "end", opFinished: "finished"}

	legal := map[Phase]map[op]bool{
		PhaseIdle:      {opLaunch: true},
		PhaseActive:    {opReplace: true, opEnd: true},
		PhaseFinishing: {opEnd: true, opFinished: true}, // end is idempotent
	}

	bring := func(c *Controller, p Phase) {
		switch p {
		case PhaseActive:
			_ = c.Launch(appX, ReasonOfferBypass)
		case PhaseFinishing:
			_ = c.Launch(appX, ReasonOfferBypass)
			_ = c.End()
		}
	}

	for phase, ops := range legal {
		for o, name := range opNames {
			t.Run(phase.String()+"_"+name, func(t *testing.T) {
				c := newTestController(nil)
				bring(c, phase)

				var err error
				switch o {
				case opLaunch:
					err = c.Launch(appY, ReasonOfferBypass)
				case opReplace:
					err = c.Replace(appY, ReasonStartIntervention)
				case opEnd:
					err = c.End()
				case opFinished:
					err = c.Finished()
				}

				if ops[o] && err != nil {
					t.Errorf("%s from %s should be legal: %v", name, phase, err)
				}
				if !ops[o] && err == nil {
					t.Errorf("%s from %s should be rejected", name, phase)
				}
			})
		}
	}
}
