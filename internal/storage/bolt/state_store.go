package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
	"go.etcd.io/bbolt"
)

type stateStore struct {
	db *bbolt.DB
}

func (s *stateStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	var snap *storage.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketState))
		if bucket == nil {
			return storage.ErrNotFound
		}
		value := bucket.Get([]byte(stateKey))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.Snapshot
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		snap = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

// Save writes the snapshot in a single write transaction: the stored
// version is compared against snap.Version and bumped atomically, so a
// concurrent reader observes either the previous snapshot or the new one.
func (s *stateStore) Save(ctx context.Context, snap *storage.Snapshot) (int64, error) {
	var newVersion int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketState))
		if bucket == nil {
			return fmt.Errorf("state bucket missing")
		}

		var storedVersion int64
		if value := bucket.Get([]byte(stateKey)); value != nil {
			var stored storage.Snapshot
			if err := unmarshal(value, &stored); err != nil {
				return err
			}
			storedVersion = stored.Version
		}
		if storedVersion != snap.Version {
			return storage.ErrVersionConflict
		}

		next := snap.Clone()
		next.Version = storedVersion + 1
		next.SavedAt = time.Now().UTC()
		data, err := marshal(next)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(stateKey), data); err != nil {
			return err
		}
		newVersion = next.Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}
