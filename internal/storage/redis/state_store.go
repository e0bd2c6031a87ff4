package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type stateStore struct {
	client *redis.Client
}

func (s *stateStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	data, err := s.client.Get(ctx, keyState).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var snap storage.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	snap.Normalize()
	return &snap, nil
}

// Save swaps the snapshot via a Lua script so the version compare and the
// write are one atomic operation; a concurrent reader sees either the
// previous snapshot or the new one.
func (s *stateStore) Save(ctx context.Context, snap *storage.Snapshot) (int64, error) {
	next := snap.Clone()
	next.Version = snap.Version + 1
	next.SavedAt = time.Now().UTC()
	payload, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	result, err := s.client.Eval(ctx, saveStateScript,
		[]string{keyVersion, keyState},
		snap.Version, string(payload),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("save state: %w", err)
	}
	if result < 0 {
		return 0, storage.ErrVersionConflict
	}
	return result, nil
}
