// Package statestore keeps small pieces of engine state in Redis so they
// survive a process restart.
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	lastRunKey = "autotrade:scheduler:last_run_date"
	lastRunTTL = 48 * time.Hour
)

// Cmdable is the subset of the Redis client the store uses.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RunStore remembers the last date the daily condition search fired.
type RunStore struct {
	redis Cmdable
}

func NewRunStore(client Cmdable) *RunStore {
	return &RunStore{redis: client}
}

// LastRunDate returns the stored date key, or "" if none is stored.
func (s *RunStore) LastRunDate(ctx context.Context) (string, error) {
	date, err := s.redis.Get(ctx, lastRunKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last run date: %w", err)
	}
	return date, nil
}

// SetLastRunDate stores date for two days.
func (s *RunStore) SetLastRunDate(ctx context.Context, date string) error {
	if err := s.redis.Set(ctx, lastRunKey, date, lastRunTTL).Err(); err != nil {
		return fmt.Errorf("failed to save last run date: %w", err)
	}
	return nil
}
