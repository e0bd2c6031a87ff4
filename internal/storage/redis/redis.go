package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/intentgate/internal/config"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyState     = "intentgate:state"
	keyVersion   = "intentgate:state:version"
	keyDecisions = "intentgate:decisions"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	stateStore    *stateStore
	decisionStore *decisionLogStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client:        client,
		stateStore:    &stateStore{client: client},
		decisionStore: &decisionLogStore{client: client},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// State returns the StateStore implementation
func (s *Store) State() storage.StateStore {
	return s.stateStore
}

// Decisions returns the DecisionLogStore implementation
func (s *Store) Decisions() storage.DecisionLogStore {
	return s.decisionStore
}
