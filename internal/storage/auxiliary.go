package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// IdempotencyTTL bounds how long a processed event ID is remembered.
const IdempotencyTTL = time.Hour

// IdempotencyStore remembers processed event IDs.
type IdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// MarkProcessed records the event ID. Returns true if this call claimed it,
// false if the event was already processed within the TTL.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, KeyProcessed(eventID), "1", IdempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return ok, nil
}

// LLMCacheTTL is the lifetime of a cached LLM decision.
const LLMCacheTTL = 60 * time.Second

// CachedDecision is the stored form of an LLM evaluation result.
type CachedDecision struct {
	ShouldTrigger bool    `json:"should_trigger"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// LLMCache stores LLM decisions keyed by (rule_id, context hash).
type LLMCache struct {
	client *redis.Client
}

func NewLLMCache(client *redis.Client) *LLMCache {
	return &LLMCache{client: client}
}

// Get returns the cached decision, or nil on a miss.
func (c *LLMCache) Get(ctx context.Context, ruleID, contextHash string) (*CachedDecision, error) {
	data, err := c.client.Get(ctx, KeyLLMCache(ruleID, contextHash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read LLM cache: %w", err)
	}

	var decision CachedDecision
	if err := json.Unmarshal([]byte(data), &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached decision: %w", err)
	}
	return &decision, nil
}

// Set caches a decision for the standard TTL.
func (c *LLMCache) Set(ctx context.Context, ruleID, contextHash string, decision CachedDecision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := c.client.Set(ctx, KeyLLMCache(ruleID, contextHash), data, LLMCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to write LLM cache: %w", err)
	}
	return nil
}

// NotificationQueue is the durable notification task queue with a dead-letter
// tail. Tasks are JSON blobs; LPUSH to enqueue, BRPOP to consume.
type NotificationQueue struct {
	client *redis.Client
}

func NewNotificationQueue(client *redis.Client) *NotificationQueue {
	return &NotificationQueue{client: client}
}

// Enqueue pushes a task onto the queue.
func (q *NotificationQueue) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.TaskID, err)
	}
	if err := q.client.LPush(ctx, KeyNotifyQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.TaskID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. Returns nil when the
// timeout elapses with an empty queue.
func (q *NotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.NotificationTask, error) {
	result, err := q.client.BRPop(ctx, timeout, KeyNotifyQueue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue notification: %w", err)
	}

	var task models.NotificationTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification task: %w", err)
	}
	return &task, nil
}

// MoveToDeadLetter pushes a task onto the dead-letter list.
func (q *NotificationQueue) MoveToDeadLetter(ctx context.Context, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.TaskID, err)
	}
	if err := q.client.LPush(ctx, KeyNotifyDeadLetter, data).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter task %s: %w", task.TaskID, err)
	}
	return nil
}

// Len returns the current queue depth.
func (q *NotificationQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, KeyNotifyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// DedupStore suppresses repeated notifications for a (rule, context key)
// pair within a cooldown window.
type DedupStore struct {
	client *redis.Client
}

func NewDedupStore(client *redis.Client) *DedupStore {
	return &DedupStore{client: client}
}

// TryAcquire claims the dedup window. Returns true when the notification may
// proceed (and starts the cooldown), false when the pair is still cooling
// down. A non-positive cooldown disables dedup.
func (s *DedupStore) TryAcquire(ctx context.Context, ruleID, contextKey string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, KeyNotifyDedup(ruleID, contextKey), "1", cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedup for %s:%s: %w", ruleID, contextKey, err)
	}
	return ok, nil
}

// RateLimitStore counts enqueues per rule per clock minute.
type RateLimitStore struct {
	client *redis.Client
}

func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Allow increments the rule's counter for the current minute and reports
// whether the post-increment count is within maxPerMinute. A zero limit
// blocks everything.
func (s *RateLimitStore) Allow(ctx context.Context, ruleID string, maxPerMinute int, now time.Time) (bool, error) {
	minute := now.UTC().Format("200601021504")
	key := KeyNotifyRate(ruleID, minute)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter for %s: %w", ruleID, err)
	}
	if count == 1 {
		s.client.Expire(ctx, key, 120*time.Second)
	}
	return count <= int64(maxPerMinute), nil
}
