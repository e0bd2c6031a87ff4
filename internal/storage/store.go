package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrVersionConflict is returned by StateStore.Save when the persisted
// snapshot version no longer matches the version the caller loaded.
// Concurrent invocations serialize here instead of interleaving field
// writes.
var ErrVersionConflict = errors.New("storage: snapshot version conflict")

// Store represents the root storage interface.
type Store interface {
	Close() error
	State() StateStore
	Decisions() DecisionLogStore
}

// StateStore persists the scheduler state snapshot.
//
// Load returns the last saved snapshot and nothing else; it must not carry
// side effects. Save is atomic: a concurrent Load observes either the
// previous snapshot or the new one, never a partial write. Save performs a
// compare-and-set on Snapshot.Version and returns ErrVersionConflict if the
// stored version moved underneath the caller; on success it returns the new
// version.
type StateStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) (int64, error)
}

// DecisionLogStore records every decision the engine produces.
type DecisionLogStore interface {
	Append(ctx context.Context, rec DecisionRecord) error
	Query(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DecisionFilter defines criteria for querying decision records.
type DecisionFilter struct {
	App       string
	Reason    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
