package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/goodtune/intentgate/internal/event"
	"github.com/goodtune/intentgate/internal/metrics"
	"github.com/goodtune/intentgate/internal/session"
	"github.com/goodtune/intentgate/internal/state"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/rs/zerolog"
)

// Notifier requests the host to bring up an exclusive surface for a launch
// decision.
type Notifier interface {
	NotifyLaunch(ctx context.Context, app string, reason Reason) error
}

// Service runs the per-event pipeline: load the persisted snapshot, merge
// the overlay, apply the event's mechanical writes, let the engine decide at
// UI-safe boundaries, drive the session lifecycle, and persist the result
// atomically. Invocations are serialized; concurrent events queue on the
// service mutex instead of interleaving field writes.
type Service struct {
	mu         sync.Mutex
	store      storage.Store
	overlay    *state.Overlay
	classifier *event.Classifier
	engine     *Engine
	sessions   *session.Controller
	notifier   Notifier
	logger     zerolog.Logger
}

// NewService creates the pipeline service. notifier may be nil, in which
// case launch decisions are recorded and session-tracked but not delivered.
func NewService(store storage.Store, engine *Engine, sessions *session.Controller, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		overlay:    state.NewOverlay(logger),
		classifier: event.NewClassifier(logger),
		engine:     engine,
		sessions:   sessions,
		notifier:   notifier,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Engine returns the service's decision engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Sessions returns the service's session controller.
func (s *Service) Sessions() *session.Controller {
	return s.sessions
}

// HandleEvent runs the full pipeline for one mechanical event. The returned
// decision is the zero value (suppress) for non-UI-safe events and for every
// failure: a broken pipeline never produces a duplicate launch.
func (s *Service) HandleEvent(ctx context.Context, ev event.Event) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.engine.clock.Now()
	defer func() {
		metrics.EventDuration.WithLabelValues(string(ev.Kind)).
			Observe(s.engine.clock.Now().Sub(started).Seconds())
	}()

	st, err := s.loadMerged(ctx)
	if err != nil {
		return Decision{}, err
	}

	if err := s.classifier.Apply(st, ev); err != nil {
		return Decision{}, err
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	var decision Decision
	replayed := false
	if ev.UISafe() {
		decision, replayed = s.engine.DecideEvent(ev.ID, ev.App, ev.Timestamp, st)
		if replayed {
			metrics.DecisionReplaysTotal.Inc()
		}
		if !replayed && decision.Launch && decision.Reason == ReasonStartIntervention {
			// The intervention dropped the app's stale intention timer.
			// Record the deletion so a conflict-retry reload cannot
			// resurrect it from the stored snapshot.
			s.overlay.RecordDelete(state.FieldIntentionTimer, decision.App)
		}
		metrics.QuotaRemaining.Set(float64(decision.QuotaRemaining))
	}

	launched := false
	if decision.Launch && !replayed {
		launched = s.launch(ctx, decision)
	}

	if ev.UISafe() && !replayed {
		s.appendDecision(ctx, ev, decision, launched)
		metrics.DecisionsTotal.WithLabelValues(decisionLabel(decision), strconv.FormatBool(launched)).Inc()
	}

	if err := s.persist(ctx, st, &ev); err != nil {
		return decision, err
	}
	return decision, nil
}

// launch drives the session controller for a launch decision and delivers
// it to the host. Returns whether the surface actually went up.
func (s *Service) launch(ctx context.Context, decision Decision) bool {
	// A new launch decision for the app that already owns the surface is an
	// internal replacement; the surface never loses foreground and no
	// teardown runs.
	if app, _, ok := s.sessions.Current(); ok && app == decision.App && s.sessions.Phase() == session.PhaseActive {
		if err := s.sessions.Replace(decision.App, session.Reason(decision.Reason)); err != nil {
			s.recordViolation("replace", err)
			return false
		}
	} else {
		if err := s.sessions.Launch(decision.App, session.Reason(decision.Reason)); err != nil {
			s.recordViolation("launch", err)
			return false
		}
	}

	if s.notifier == nil {
		return true
	}
	if err := s.notifier.NotifyLaunch(ctx, decision.App, decision.Reason); err != nil {
		// Delivery failed; release the surface so the decision degrades to
		// suppress instead of wedging the lifecycle.
		s.logger.Error().Err(err).
			Str("app", decision.App).
			Str("reason", string(decision.Reason)).
			Msg("Host delivery failed, releasing session")
		if endErr := s.sessions.End(); endErr == nil {
			_ = s.sessions.Finished()
		}
		return false
	}
	return true
}

func (s *Service) recordViolation(op string, err error) {
	var violation *session.InvariantViolationError
	if errors.As(err, &violation) {
		metrics.InvariantViolationsTotal.WithLabelValues(op).Inc()
	}
}

// HandleChoice applies an explicit user decision reported by the surface.
// The choice resolves any pending enforcement for the app, records the
// overlay overrides that protect the writes against stale reloads, ends the
// live session, and persists.
func (s *Service) HandleChoice(ctx context.Context, choice Choice) error {
	if choice.App == "" {
		return fmt.Errorf("%w: missing app", ErrInvalidChoice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadMerged(ctx)
	if err != nil {
		return err
	}

	switch choice.Kind {
	case ChoiceDismiss:
		delete(st.PendingExpiry, choice.App)
		s.overlay.RecordDelete(state.FieldPendingExpiry, choice.App)
	case ChoiceDeclareIntention:
		if choice.Duration <= 0 {
			return fmt.Errorf("%w: declare intention requires a positive duration", ErrInvalidChoice)
		}
		delete(st.PendingExpiry, choice.App)
		s.overlay.RecordDelete(state.FieldPendingExpiry, choice.App)
		t := state.Timer{ExpiresAt: choice.Timestamp.Add(choice.Duration)}
		st.IntentionTimers[choice.App] = t
		s.overlay.RecordSetTimer(state.FieldIntentionTimer, choice.App, t)
	case ChoiceLeaveApp:
		delete(st.PendingExpiry, choice.App)
		delete(st.IntentionTimers, choice.App)
		s.overlay.RecordDelete(state.FieldPendingExpiry, choice.App)
		s.overlay.RecordDelete(state.FieldIntentionTimer, choice.App)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChoice, choice.Kind)
	}

	s.logger.Info().
		Str("app", choice.App).
		Str("kind", string(choice.Kind)).
		Msg("Applied user choice")

	// The finish signal fires synchronously before persistence so the host
	// regains the surface even if the save below fails.
	ended := false
	if s.sessions.Phase() == session.PhaseActive {
		if err := s.sessions.End(); err == nil {
			ended = true
		}
	}

	if err := s.persist(ctx, st, nil); err != nil {
		if ended {
			_ = s.sessions.Finished()
		}
		return err
	}
	if ended {
		_ = s.sessions.Finished()
	}
	return nil
}

// EndSession handles a plain session-ended signal carrying no explicit
// choice. Ending an already-finishing session is a no-op; ending with no
// session live is a contract violation and is reported as such.
func (s *Service) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := s.sessions.Phase()
	if err := s.sessions.End(); err != nil {
		s.recordViolation("end", err)
		return err
	}
	if phase == session.PhaseFinishing {
		return nil
	}

	st, err := s.loadMerged(ctx)
	if err != nil {
		_ = s.sessions.Finished()
		return err
	}
	if err := s.persist(ctx, st, nil); err != nil {
		_ = s.sessions.Finished()
		return err
	}
	return s.sessions.Finished()
}

// CurrentState returns the effective state snapshot: the persisted snapshot
// with live overlay overrides merged in.
func (s *Service) CurrentState(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadMerged(ctx)
	if err != nil {
		return nil, err
	}
	return st.Snapshot(), nil
}

// loadMerged loads the persisted snapshot, treating a missing one as empty,
// and merges live overlay overrides over it.
func (s *Service) loadMerged(ctx context.Context) (*state.State, error) {
	snap, err := s.store.State().Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load state: %w", err)
	}

	st := state.FromSnapshot(snap)
	if applied := s.overlay.Merge(st); applied > 0 {
		metrics.StaleStateRacesTotal.Add(float64(applied))
	}
	return st, nil
}

// persist saves the state, retrying once on a version conflict. The retry
// reloads, re-merges the overlay, and re-applies the event's mechanical
// writes; it never re-decides, so a conflicting save cannot double-launch.
func (s *Service) persist(ctx context.Context, st *state.State, ev *event.Event) error {
	version, err := s.store.State().Save(ctx, st.Snapshot())
	if errors.Is(err, storage.ErrVersionConflict) {
		metrics.SaveConflictsTotal.Inc()
		s.logger.Warn().
			Int64("loaded_version", st.Version).
			Msg("Snapshot version moved underneath us, retrying save")

		fresh, loadErr := s.loadMerged(ctx)
		if loadErr != nil {
			return loadErr
		}
		if ev != nil {
			if applyErr := s.classifier.Apply(fresh, *ev); applyErr != nil {
				return applyErr
			}
		}
		version, err = s.store.State().Save(ctx, fresh.Snapshot())
	}
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	s.overlay.Ack(version)
	return nil
}

func (s *Service) appendDecision(ctx context.Context, ev event.Event, decision Decision, launched bool) {
	rec := storage.DecisionRecord{
		ID:             fmt.Sprintf("%d-%s", ev.Timestamp.UnixNano(), ev.App),
		EventID:        ev.ID,
		Timestamp:      ev.Timestamp,
		App:            ev.App,
		Reason:         decisionLabel(decision),
		Launched:       launched,
		QuotaRemaining: decision.QuotaRemaining,
	}
	if err := s.store.Decisions().Append(ctx, rec); err != nil {
		// The audit log is best-effort; the decision itself stands.
		s.logger.Warn().Err(err).
			Str("event_id", ev.ID).
			Msg("Failed to append decision record")
	}
}

func decisionLabel(decision Decision) string {
	if !decision.Launch {
		return "SUPPRESS"
	}
	return string(decision.Reason)
}
