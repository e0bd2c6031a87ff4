package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "intentgate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestStateStoreLoadMissing(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.State().Load(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStateStoreSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	snap := storage.NewSnapshot()
	snap.BypassTimers["com.example.feed"] = storage.TimerRecord{
		ExpiresAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}
	snap.QuotaUsageHistory = append(snap.QuotaUsageHistory, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	snap.LastForegroundApp = "com.example.feed"

	version, err := store.State().Save(ctx, snap)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}

	loaded, err := store.State().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 {
		t.Fatalf("loaded version = %d, want 1", loaded.Version)
	}
	if loaded.LastForegroundApp != "com.example.feed" {
		t.Fatalf("last foreground = %q", loaded.LastForegroundApp)
	}
	timer, ok := loaded.BypassTimers["com.example.feed"]
	if !ok || !timer.ExpiresAt.Equal(snap.BypassTimers["com.example.feed"].ExpiresAt) {
		t.Fatalf("bypass timer = %+v, ok = %v", timer, ok)
	}
	if len(loaded.QuotaUsageHistory) != 1 {
		t.Fatalf("quota history length = %d, want 1", len(loaded.QuotaUsageHistory))
	}
	if loaded.SavedAt.IsZero() {
		t.Fatal("saved_at not stamped")
	}
}

func TestStateStoreVersionConflict(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	snap := storage.NewSnapshot()
	if _, err := store.State().Save(ctx, snap); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A second save against the same loaded version must fail; the caller
	// has to reload first.
	stale := storage.NewSnapshot()
	if _, err := store.State().Save(ctx, stale); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	loaded, err := store.State().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := store.State().Save(ctx, loaded); err != nil {
		t.Fatalf("save after reload: %v", err)
	}
}

func TestDecisionLogQueryAndRetention(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []storage.DecisionRecord{
		{EventID: "e1", Timestamp: base, App: "com.example.feed", Reason: "OFFER_BYPASS", Launched: true, QuotaRemaining: 2},
		{EventID: "e2", Timestamp: base.Add(time.Minute), App: "com.example.video", Reason: "SUPPRESS"},
		{EventID: "e3", Timestamp: base.Add(2 * time.Minute), App: "com.example.feed", Reason: "START_INTERVENTION", Launched: true},
	}
	for _, rec := range records {
		if err := store.Decisions().Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byApp, err := store.Decisions().Query(ctx, storage.DecisionFilter{App: "com.example.feed"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(byApp) != 2 {
		t.Fatalf("records for app = %d, want 2", len(byApp))
	}
	if byApp[0].EventID != "e1" || byApp[1].EventID != "e3" {
		t.Fatalf("records out of timestamp order: %+v", byApp)
	}

	limited, err := store.Decisions().Query(ctx, storage.DecisionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(limited) != 1 || limited[0].EventID != "e2" {
		t.Fatalf("limit/offset records = %+v", limited)
	}

	deleted, err := store.Decisions().DeleteBefore(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	remaining, err := store.Decisions().Query(ctx, storage.DecisionFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
}
