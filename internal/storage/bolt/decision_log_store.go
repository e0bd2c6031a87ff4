package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
	"go.etcd.io/bbolt"
)

type decisionLogStore struct {
	db *bbolt.DB
}

func (s *decisionLogStore) Append(ctx context.Context, rec storage.DecisionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	key, err := decisionKey(rec.Timestamp)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = key
	}
	data, err := marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketDecisions))
		if bucket == nil {
			return fmt.Errorf("decisions bucket missing")
		}
		return bucket.Put([]byte(key), data)
	})
}

// Query returns matching decision records in timestamp order. Keys are
// zero-padded nanosecond timestamps, so cursor order is time order.
func (s *decisionLogStore) Query(ctx context.Context, filter storage.DecisionFilter) ([]storage.DecisionRecord, error) {
	records := make([]storage.DecisionRecord, 0)
	skipped := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketDecisions))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var rec storage.DecisionRecord
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			if !filter.Matches(rec) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			records = append(records, rec)
			if filter.Limit > 0 && len(records) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *decisionLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketDecisions))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec storage.DecisionRecord
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Timestamp.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
