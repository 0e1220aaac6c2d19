package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// triggerStateTTL bounds abandoned trigger-mode state.
const triggerStateTTL = time.Hour

// snapshotAndClear atomically reads the batch accumulator and deletes it
// together with its first-event timestamp. Atomicity against concurrent
// appends is what guarantees every accumulated event lands in exactly one
// flushed batch.
var snapshotAndClear = redis.NewScript(`
local entries = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1], KEYS[2])
return entries
`)

// TriggerStateStore persists trigger-mode state: per-(rule, context_key)
// batch accumulators, first-event timestamps and last-analysis times, plus
// the per-rule interval advisory lock. All mutations use server-side atomic primitives so
// multiple workers can share the state safely.
type TriggerStateStore struct {
	client *redis.Client
}

func NewTriggerStateStore(client *redis.Client) *TriggerStateStore {
	return &TriggerStateStore{client: client}
}

// AppendBatch adds the event to the rule's accumulator and records the
// first-event timestamp if this is the first entry. Returns the accumulator
// size after the append.
func (s *TriggerStateStore) AppendBatch(ctx context.Context, ruleID string, event *models.Event, maxWait time.Duration) (int64, error) {
	key := KeyBatch(ruleID, event.ContextKey)
	sinceKey := KeyBatchSince(ruleID, event.ContextKey)

	entry, err := json.Marshal(event.ToContextEntry())
	if err != nil {
		return 0, fmt.Errorf("failed to marshal batch entry: %w", err)
	}

	ttl := maxWait + 10*time.Second
	pipe := s.client.TxPipeline()
	size := pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, ttl)
	pipe.SetNX(ctx, sinceKey, strconv.FormatInt(time.Now().UTC().UnixMilli(), 10), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append to batch %s:%s: %w", ruleID, event.ContextKey, err)
	}
	return size.Val(), nil
}

// BatchSince returns the first-event timestamp of the accumulator, or false
// when the accumulator is empty.
func (s *TriggerStateStore) BatchSince(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, KeyBatchSince(ruleID, contextKey)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read batch since %s:%s: %w", ruleID, contextKey, err)
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// FlushBatch atomically snapshots and clears the accumulator, returning the
// accumulated events. An empty result means another worker flushed first.
func (s *TriggerStateStore) FlushBatch(ctx context.Context, ruleID, contextKey string) ([]models.Event, error) {
	raw, err := snapshotAndClear.Run(ctx, s.client,
		[]string{KeyBatch(ruleID, contextKey), KeyBatchSince(ruleID, contextKey)}).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to flush batch %s:%s: %w", ruleID, contextKey, err)
	}

	events := make([]models.Event, 0, len(raw))
	for _, item := range raw {
		var entry models.ContextEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		events = append(events, models.EventFromContextEntry(entry, contextKey))
	}
	return events, nil
}

// PendingBatchContexts scans for context keys with a non-empty accumulator
// for the rule. Used by the periodic sweep.
func (s *TriggerStateStore) PendingBatchContexts(ctx context.Context, ruleID string) ([]string, error) {
	prefix := KeyBatch(ruleID, "")
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan batches for %s: %w", ruleID, err)
	}
	return keys, nil
}

// LastAnalysis returns the last LLM analysis time for the pair, or false
// when none is recorded.
func (s *TriggerStateStore) LastAnalysis(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, KeyLastAnalysis(ruleID, contextKey)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last analysis %s:%s: %w", ruleID, contextKey, err)
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// SetLastAnalysis records an LLM analysis time.
func (s *TriggerStateStore) SetLastAnalysis(ctx context.Context, ruleID, contextKey string, at time.Time) error {
	err := s.client.Set(ctx, KeyLastAnalysis(ruleID, contextKey),
		strconv.FormatInt(at.UTC().UnixMilli(), 10), triggerStateTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set last analysis %s:%s: %w", ruleID, contextKey, err)
	}
	return nil
}

// AnalyzedContexts scans for context keys with a recorded last-analysis time
// for the rule. Used by the interval sweep to find keys to re-examine.
func (s *TriggerStateStore) AnalyzedContexts(ctx context.Context, ruleID string) ([]string, error) {
	prefix := KeyLastAnalysis(ruleID, "")
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan analyses for %s: %w", ruleID, err)
	}
	return keys, nil
}

// TryAcquireIntervalLock claims the rule's advisory interval lock for the
// given TTL. A single worker wins; losers skip the analysis.
func (s *TriggerStateStore) TryAcquireIntervalLock(ctx context.Context, ruleID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, KeyIntervalLock(ruleID),
		strconv.FormatInt(time.Now().UTC().UnixMilli(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire interval lock for %s: %w", ruleID, err)
	}
	return ok, nil
}

// ReleaseIntervalLock drops the advisory lock after analysis completes.
func (s *TriggerStateStore) ReleaseIntervalLock(ctx context.Context, ruleID string) error {
	if err := s.client.Del(ctx, KeyIntervalLock(ruleID)).Err(); err != nil {
		return fmt.Errorf("failed to release interval lock for %s: %w", ruleID, err)
	}
	return nil
}
