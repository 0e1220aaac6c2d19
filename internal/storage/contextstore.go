package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// ContextStore maintains per-context-key windows of recent events in Redis
// sorted sets scored by event timestamp. Eviction is eager: every append
// trims by time and by count and refreshes the key TTL.
type ContextStore struct {
	client        *redis.Client
	windowSeconds int
	maxEvents     int
}

// NewContextStore creates a context store with the given window bounds.
func NewContextStore(client *redis.Client, windowSeconds, maxEvents int) *ContextStore {
	return &ContextStore{
		client:        client,
		windowSeconds: windowSeconds,
		maxEvents:     maxEvents,
	}
}

// Append inserts the event into its context window scored by timestamp, then
// trims expired and excess entries and refreshes the key TTL. Appending the
// same (timestamp, event) twice is idempotent.
func (s *ContextStore) Append(ctx context.Context, event *models.Event) error {
	key := KeyContext(event.ContextKey)
	entry, err := json.Marshal(event.ToContextEntry())
	if err != nil {
		return fmt.Errorf("failed to marshal context entry: %w", err)
	}
	score := float64(event.Timestamp.UnixMilli())

	cutoff := s.cutoffMilli(time.Now().UTC())

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(entry)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(s.windowSeconds+60)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to context %s: %w", event.ContextKey, err)
	}

	// Count trim runs after the time trim so the cardinality is current.
	if count := card.Val(); count > int64(s.maxEvents) {
		if err := s.client.ZRemRangeByRank(ctx, key, 0, count-int64(s.maxEvents)-1).Err(); err != nil {
			return fmt.Errorf("failed to trim context %s: %w", event.ContextKey, err)
		}
	}
	return nil
}

// Events returns the window's events in ascending timestamp order, bounded
// by the time cutoff.
func (s *ContextStore) Events(ctx context.Context, contextKey string) ([]models.Event, error) {
	key := KeyContext(contextKey)
	cutoff := s.cutoffMilli(time.Now().UTC())

	entries, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read context %s: %w", contextKey, err)
	}

	events := make([]models.Event, 0, len(entries))
	for _, raw := range entries {
		var entry models.ContextEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue // skip unreadable entries rather than failing the read
		}
		events = append(events, models.EventFromContextEntry(entry, contextKey))
	}
	return events, nil
}

// Count returns the number of in-window events for the key.
func (s *ContextStore) Count(ctx context.Context, contextKey string) (int64, error) {
	cutoff := s.cutoffMilli(time.Now().UTC())
	count, err := s.client.ZCount(ctx, KeyContext(contextKey), fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count context %s: %w", contextKey, err)
	}
	return count, nil
}

// Clear removes the whole window for a context key.
func (s *ContextStore) Clear(ctx context.Context, contextKey string) error {
	if err := s.client.Del(ctx, KeyContext(contextKey)).Err(); err != nil {
		return fmt.Errorf("failed to clear context %s: %w", contextKey, err)
	}
	return nil
}

func (s *ContextStore) cutoffMilli(now time.Time) int64 {
	return now.Add(-time.Duration(s.windowSeconds) * time.Second).UnixMilli()
}
