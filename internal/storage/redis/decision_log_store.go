package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type decisionLogStore struct {
	client *redis.Client
}

// Append stores the record in a sorted set scored by timestamp, so range
// queries and retention pruning are native operations.
func (s *decisionLogStore) Append(ctx context.Context, rec storage.DecisionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%020d-%s", rec.Timestamp.UnixNano(), rec.EventID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}

	err = s.client.ZAdd(ctx, keyDecisions, redis.Z{
		Score:  float64(rec.Timestamp.UnixNano()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("append decision record: %w", err)
	}
	return nil
}

func (s *decisionLogStore) Query(ctx context.Context, filter storage.DecisionFilter) ([]storage.DecisionRecord, error) {
	min, max := "-inf", "+inf"
	if filter.StartTime != nil {
		min = strconv.FormatInt(filter.StartTime.UnixNano(), 10)
	}
	if filter.EndTime != nil {
		max = strconv.FormatInt(filter.EndTime.UnixNano(), 10)
	}

	members, err := s.client.ZRangeByScore(ctx, keyDecisions, &redis.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query decision records: %w", err)
	}

	records := make([]storage.DecisionRecord, 0)
	skipped := 0
	for _, member := range members {
		var rec storage.DecisionRecord
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal decision record: %w", err)
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
			break
		}
	}
	return records, nil
}

func (s *decisionLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixNano())
	deleted, err := s.client.ZRemRangeByScore(ctx, keyDecisions, "-inf", max).Result()
	if err != nil {
		return 0, fmt.Errorf("delete decision records: %w", err)
	}
	return int(deleted), nil
}
