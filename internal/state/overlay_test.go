package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testOverlay() *Overlay {
	return NewOverlay(zerolog.Nop())
}

func TestOverlayDeleteWinsOverStaleLoad(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOverlay()

	// User dismissed the pending flag while the persisted snapshot still
	// carries it.
	o.RecordDelete(FieldPendingExpiry, "com.example.feed")

	stale := New()
	stale.Version = 4
	stale.PendingExpiry["com.example.feed"] = PendingExpiry{ExpiredAt: base, ExpiredWhileForeground: true}

	if applied := o.Merge(stale); applied != 1 {
		t.Fatalf("expected 1 override applied, got %d", applied)
	}
	if _, ok := stale.PendingExpiry["com.example.feed"]; ok {
		t.Error("overlay deletion must win over stale persisted presence")
	}
}

func TestOverlayNoResurrectionAcrossReloads(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOverlay()
	o.RecordDelete(FieldPendingExpiry, "com.example.feed")

	// The deletion is persisted at version 6.
	o.Ack(6)

	// A snapshot taken before that save (version 5) still carries the flag;
	// the override must keep deleting it.
	stale := New()
	stale.Version = 5
	stale.PendingExpiry["com.example.feed"] = PendingExpiry{ExpiredAt: base, ExpiredWhileForeground: true}
	o.Merge(stale)
	if _, ok := stale.PendingExpiry["com.example.feed"]; ok {
		t.Fatal("flag resurrected from pre-deletion snapshot")
	}

	// A snapshot at version 6 reflects the save; the override retires.
	fresh := New()
	fresh.Version = 6
	o.Merge(fresh)
	if o.Len() != 0 {
		t.Errorf("expected override retired, %d remain", o.Len())
	}
}

func TestOverlayTimerWrite(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOverlay()
	o.RecordSetTimer(FieldIntentionTimer, "com.example.video", Timer{ExpiresAt: base.Add(15 * time.Minute)})

	st := New()
	o.Merge(st)

	timer, ok := st.IntentionTimers["com.example.video"]
	if !ok || !timer.ExpiresAt.Equal(base.Add(15*time.Minute)) {
		t.Error("intention timer override not applied")
	}
}

func TestOverlayRejectsPendingExpiryWrite(t *testing.T) {
	o := testOverlay()
	o.RecordSetTimer(FieldPendingExpiry, "com.example.feed", Timer{})
	if o.Len() != 0 {
		t.Error("pending expiry writes must be ignored")
	}
}

func TestOverlayUntouchedKeysPassThrough(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOverlay()
	o.RecordDelete(FieldPendingExpiry, "com.example.feed")

	st := New()
	st.BypassTimers["com.example.video"] = Timer{ExpiresAt: base.Add(time.Minute)}
	o.Merge(st)

	if _, ok := st.BypassTimers["com.example.video"]; !ok {
		t.Error("keys not touched by the overlay must pass through unchanged")
	}
}
