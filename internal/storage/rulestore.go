package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aixtrade/LLMTrigger/internal/expr"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// RuleStore persists rules in Redis: a detail hash per rule, a per-event-type
// index, a global rule set, and a monotonically increasing version counter.
// Every write bumps the version and publishes a change notification; readers
// rely on the version counter, the pub/sub channel is a latency hint only.
type RuleStore struct {
	client *redis.Client
}

// NewRuleStore creates a rule store backed by the given Redis client.
func NewRuleStore(client *redis.Client) *RuleStore {
	return &RuleStore{client: client}
}

// Create validates and stores a new rule.
func (s *RuleStore) Create(ctx context.Context, rule *models.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.Metadata.CreatedAt = now
	rule.Metadata.UpdatedAt = now
	if rule.Metadata.Version == 0 {
		rule.Metadata.Version = 1
	}
	if rule.Metadata.CreatedBy == "" {
		rule.Metadata.CreatedBy = "system"
	}

	if err := s.writeDetail(ctx, rule); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, KeyRuleAll, rule.RuleID)
	for _, eventType := range rule.EventTypes {
		pipe.SAdd(ctx, KeyRuleIndex(eventType), rule.RuleID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index rule %s: %w", rule.RuleID, err)
	}

	return s.publishUpdate(ctx, "create", rule.RuleID)
}

// Get returns a rule by ID, or nil when it does not exist.
func (s *RuleStore) Get(ctx context.Context, ruleID string) (*models.Rule, error) {
	data, err := s.client.HGet(ctx, KeyRuleDetail(ruleID), "config").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}

	var rule models.Rule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule %s: %w", ruleID, err)
	}
	return &rule, nil
}

// Update replaces an existing rule, bumping its per-rule version.
func (s *RuleStore) Update(ctx context.Context, ruleID string, rule *models.Rule) (*models.Rule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	rule.RuleID = ruleID
	rule.Metadata.CreatedAt = existing.Metadata.CreatedAt
	rule.Metadata.UpdatedAt = time.Now().UTC()
	rule.Metadata.Version = existing.Metadata.Version + 1

	// Reindex changed event types.
	oldTypes := toSet(existing.EventTypes)
	newTypes := toSet(rule.EventTypes)
	pipe := s.client.Pipeline()
	for t := range oldTypes {
		if !newTypes[t] {
			pipe.SRem(ctx, KeyRuleIndex(t), ruleID)
		}
	}
	for t := range newTypes {
		if !oldTypes[t] {
			pipe.SAdd(ctx, KeyRuleIndex(t), ruleID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to reindex rule %s: %w", ruleID, err)
	}

	if err := s.writeDetail(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.publishUpdate(ctx, "update", ruleID); err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes a rule and its index entries. Returns false if not found.
func (s *RuleStore) Delete(ctx context.Context, ruleID string) (bool, error) {
	existing, err := s.Get(ctx, ruleID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	pipe := s.client.Pipeline()
	for _, eventType := range existing.EventTypes {
		pipe.SRem(ctx, KeyRuleIndex(eventType), ruleID)
	}
	pipe.SRem(ctx, KeyRuleAll, ruleID)
	pipe.Del(ctx, KeyRuleDetail(ruleID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}

	if err := s.publishUpdate(ctx, "delete", ruleID); err != nil {
		return false, err
	}
	return true, nil
}

// SetEnabled flips a rule's enabled flag. Returns false if not found.
func (s *RuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) (bool, error) {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return false, err
	}
	if rule == nil {
		return false, nil
	}

	rule.Enabled = enabled
	rule.Metadata.UpdatedAt = time.Now().UTC()
	if err := s.writeDetail(ctx, rule); err != nil {
		return false, err
	}
	if err := s.publishUpdate(ctx, "update", ruleID); err != nil {
		return false, err
	}
	return true, nil
}

// ListAll returns every stored rule.
func (s *RuleStore) ListAll(ctx context.Context) ([]*models.Rule, error) {
	ruleIDs, err := s.client.SMembers(ctx, KeyRuleAll).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*models.Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// ListByEventType returns all rules indexed under the event type, including
// disabled ones; match-time filtering is the cache's concern.
func (s *RuleStore) ListByEventType(ctx context.Context, eventType string) ([]*models.Rule, error) {
	ruleIDs, err := s.client.SMembers(ctx, KeyRuleIndex(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rule index for %s: %w", eventType, err)
	}

	rules := make([]*models.Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Version returns the global rules version counter. 0 means no writes yet.
func (s *RuleStore) Version(ctx context.Context) (int64, error) {
	version, err := s.client.Get(ctx, KeyRuleVersion).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rules version: %w", err)
	}
	return version, nil
}

func (s *RuleStore) writeDetail(ctx context.Context, rule *models.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.RuleID, err)
	}
	err = s.client.HSet(ctx, KeyRuleDetail(rule.RuleID), map[string]any{
		"config":     string(data),
		"enabled":    strconv.FormatBool(rule.Enabled),
		"version":    strconv.Itoa(rule.Metadata.Version),
		"updated_at": strconv.FormatInt(rule.Metadata.UpdatedAt.UnixMilli(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to write rule %s: %w", rule.RuleID, err)
	}
	return nil
}

// publishUpdate increments the global version counter and notifies listeners.
func (s *RuleStore) publishUpdate(ctx context.Context, action, ruleID string) error {
	if err := s.client.Incr(ctx, KeyRuleVersion).Err(); err != nil {
		return fmt.Errorf("failed to bump rules version: %w", err)
	}

	message, _ := json.Marshal(map[string]any{
		"action":    action,
		"rule_id":   ruleID,
		"timestamp": time.Now().UTC().UnixMilli(),
	})
	if err := s.client.Publish(ctx, ChannelRuleUpdate, message).Err(); err != nil {
		// Best-effort: readers fall back to the version counter.
		slog.Warn("Failed to publish rule update", "rule_id", ruleID, "error", err)
	}
	return nil
}

// validateRule enforces the write-time contract: structural validity plus a
// parseable pre-filter expression.
func validateRule(rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if pf := rule.RuleConfig.PreFilter; pf != nil {
		if err := expr.Validate(pf.Expression); err != nil {
			return fmt.Errorf("invalid pre_filter expression: %w", err)
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
