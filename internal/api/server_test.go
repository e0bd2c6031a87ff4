package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/goodtune/intentgate/internal/session"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/goodtune/intentgate/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*Server, *scheduler.TestClock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "intentgate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := &scheduler.TestClock{CurrentTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine := scheduler.NewEngine(scheduler.EngineConfig{
		Quota: scheduler.Quota{MaxUses: 3, Window: time.Hour},
	}, zerolog.Nop())
	engine.SetClock(clock)

	sessions := session.NewController(nil, zerolog.Nop())
	service := scheduler.NewService(store, engine, sessions, nil, zerolog.Nop())
	return NewServer("127.0.0.1:0", service, store, zerolog.Nop()), clock
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestPostEventReturnsDecision(t *testing.T) {
	server, clock := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/v1/events", map[string]any{
		"id":        "e1",
		"kind":      "FOREGROUND_CHANGED",
		"app":       "com.example.feed",
		"timestamp": clock.Now().Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var decision scheduler.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if !decision.Launch || decision.Reason != scheduler.ReasonOfferBypass {
		t.Fatalf("decision = %+v, want bypass offer", decision)
	}
}

func TestPostEventRejectsInvalid(t *testing.T) {
	server, clock := newTestServer(t)

	// TIMER_SET without an explicit timer kind must be rejected, not
	// guessed at.
	rec := postJSON(t, server.Handler(), "/v1/events", map[string]any{
		"id":        "e1",
		"kind":      "TIMER_SET",
		"app":       "com.example.feed",
		"timestamp": clock.Now().Format(time.RFC3339),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostChoiceRejectsUnknownKind(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/v1/choices", map[string]any{
		"app":  "com.example.feed",
		"kind": "SNOOZE",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostChoiceRejectsMissingDuration(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/v1/choices", map[string]any{
		"app":  "com.example.feed",
		"kind": "DECLARE_INTENTION",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionEndConflictWhenIdle(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/session/end", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStateAndDecisionsEndpoints(t *testing.T) {
	server, clock := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/v1/events", map[string]any{
		"id":         "e1",
		"kind":       "TIMER_SET",
		"app":        "com.example.feed",
		"timestamp":  clock.Now().Format(time.RFC3339),
		"timer_kind": "BYPASS",
		"expires_at": clock.Now().Add(5 * time.Minute).Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("event status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = postJSON(t, server.Handler(), "/v1/events", map[string]any{
		"id":        "e2",
		"kind":      "USER_INTERACTION",
		"app":       "com.example.feed",
		"timestamp": clock.Now().Add(time.Second).Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("event status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	stateRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(stateRec, req)
	if stateRec.Code != http.StatusOK {
		t.Fatalf("state status = %d", stateRec.Code)
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(stateRec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if _, ok := snap.BypassTimers["com.example.feed"]; !ok {
		t.Fatalf("snapshot missing bypass timer: %+v", snap)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/decisions?app=com.example.feed", nil)
	decRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(decRec, req)
	if decRec.Code != http.StatusOK {
		t.Fatalf("decisions status = %d", decRec.Code)
	}
	var result struct {
		Decisions []storage.DecisionRecord `json:"decisions"`
		Count     int                      `json:"count"`
	}
	if err := json.Unmarshal(decRec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode decisions: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("decision count = %d, want 1 (only the interaction decided)", result.Count)
	}
	if result.Decisions[0].Reason != "SUPPRESS" {
		t.Fatalf("reason = %q, want SUPPRESS inside bypass window", result.Decisions[0].Reason)
	}
}
