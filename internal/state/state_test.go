package state

import (
	"testing"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
)

func TestTimerValid(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	timer := Timer{ExpiresAt: base.Add(10 * time.Second)}

	if !timer.Valid(base) {
		t.Error("timer should be valid before expiry")
	}
	if timer.Valid(base.Add(10 * time.Second)) {
		t.Error("timer should be invalid exactly at expiry")
	}
	if timer.Valid(base.Add(11 * time.Second)) {
		t.Error("timer should be invalid after expiry")
	}
}

func TestFromSnapshotNil(t *testing.T) {
	st := FromSnapshot(nil)
	if st.BypassTimers == nil || st.IntentionTimers == nil || st.PendingExpiry == nil || st.QuotaUsageHistory == nil {
		t.Fatal("expected all collections allocated for nil snapshot")
	}
}

func TestFromSnapshotMissingCollections(t *testing.T) {
	// A snapshot deserialized from a corrupt payload may carry nil maps.
	snap := &storage.Snapshot{Version: 7}
	st := FromSnapshot(snap)

	if st.Version != 7 {
		t.Errorf("expected version 7, got %d", st.Version)
	}
	if len(st.BypassTimers) != 0 || len(st.PendingExpiry) != 0 {
		t.Error("expected empty collections")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st := New()
	st.Version = 3
	st.LastForegroundApp = "com.example.feed"
	st.BypassTimers["com.example.feed"] = Timer{ExpiresAt: base.Add(time.Minute)}
	st.IntentionTimers["com.example.video"] = Timer{ExpiresAt: base.Add(10 * time.Minute)}
	st.RecordQuotaUse(base)
	st.PendingExpiry["com.example.game"] = PendingExpiry{ExpiredAt: base, ExpiredWhileForeground: true}

	got := FromSnapshot(st.Snapshot())

	if got.Version != 3 || got.LastForegroundApp != "com.example.feed" {
		t.Errorf("scalar fields did not round-trip: %+v", got)
	}
	if got.BypassTimers["com.example.feed"].ExpiresAt != base.Add(time.Minute) {
		t.Error("bypass timer did not round-trip")
	}
	if got.IntentionTimers["com.example.video"].ExpiresAt != base.Add(10*time.Minute) {
		t.Error("intention timer did not round-trip")
	}
	if len(got.QuotaUsageHistory) != 1 || !got.QuotaUsageHistory[0].Equal(base) {
		t.Error("quota ledger did not round-trip")
	}
	pe, ok := got.PendingExpiry["com.example.game"]
	if !ok || !pe.ExpiredWhileForeground || !pe.ExpiredAt.Equal(base) {
		t.Error("pending expiry did not round-trip")
	}
}

func TestPruneQuotaHalfOpenWindow(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 900 * time.Second

	st := New()
	st.RecordQuotaUse(base)                        // ages out at base+900
	st.RecordQuotaUse(base.Add(100 * time.Second)) // ages out at base+1000

	if got := st.LiveQuotaUses(base.Add(200*time.Second), window); got != 2 {
		t.Errorf("at t=200 expected 2 live uses, got %d", got)
	}
	// Entry exactly window old is expired.
	if got := st.LiveQuotaUses(base.Add(900*time.Second), window); got != 1 {
		t.Errorf("at t=900 expected 1 live use, got %d", got)
	}
	if got := st.LiveQuotaUses(base.Add(1001*time.Second), window); got != 0 {
		t.Errorf("at t=1001 expected 0 live uses, got %d", got)
	}
}

func TestPruneQuotaNeverResurrects(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	st := New()
	st.RecordQuotaUse(base)
	st.PruneQuota(base.Add(2*time.Minute), window)

	if len(st.QuotaUsageHistory) != 0 {
		t.Fatal("expected pruned ledger")
	}
	// A later read at an earlier clock must not bring entries back.
	if got := st.LiveQuotaUses(base.Add(30*time.Second), window); got != 0 {
		t.Errorf("pruned entries resurrected: %d", got)
	}
}
