package rules

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Aixtrade/LLMTrigger/internal/storage"
)

// Listener subscribes to the rule-update channel and invalidates the cache
// when a change lands. Delivery is best-effort; the version counter in
// Cache.Match remains the source of truth.
type Listener struct {
	client *redis.Client
	cache  *Cache
}

// NewListener creates a listener bound to the given cache.
func NewListener(client *redis.Client, cache *Cache) *Listener {
	return &Listener{client: client, cache: cache}
}

// Start consumes rule-update messages in a background goroutine until ctx is
// cancelled.
func (l *Listener) Start(ctx context.Context) {
	pubsub := l.client.Subscribe(ctx, storage.ChannelRuleUpdate)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				slog.Info("Rule update listener stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update struct {
					Action string `json:"action"`
					RuleID string `json:"rule_id"`
				}
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					slog.Warn("Malformed rule update message", "error", err)
					continue
				}
				slog.Debug("Rule update received",
					"action", update.Action,
					"rule_id", update.RuleID,
				)
				l.cache.Invalidate()
			}
		}
	}()
}
