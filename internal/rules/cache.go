// Package rules provides the consumer-side rule catalog: a per-process cache
// validated against the global version counter on every match, with a
// pub/sub listener for early invalidation. Correctness depends only on the
// version comparison; the pub/sub channel just shortens staleness.
package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// Source is the authoritative rule repository the cache reads through.
type Source interface {
	Version(ctx context.Context) (int64, error)
	ListByEventType(ctx context.Context, eventType string) ([]*models.Rule, error)
	ListAll(ctx context.Context) ([]*models.Rule, error)
}

// Cache is a version-tagged in-process rule cache.
type Cache struct {
	source Source

	mu      sync.RWMutex
	version int64
	loaded  bool
	byType  map[string][]*models.Rule
	all     []*models.Rule
}

// NewCache creates a cache over the given repository.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		byType: make(map[string][]*models.Rule),
	}
}

// Match returns the enabled rules subscribed to the event type whose context
// key patterns admit the given key, sorted by priority descending with ties
// broken by rule_id ascending.
func (c *Cache) Match(ctx context.Context, eventType, contextKey string) ([]*models.Rule, error) {
	if err := c.revalidate(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	rules, cached := c.byType[eventType]
	c.mu.RUnlock()

	if !cached {
		fetched, err := c.source.ListByEventType(ctx, eventType)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byType[eventType] = fetched
		c.mu.Unlock()
		rules = fetched
	}

	matched := make([]*models.Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !rule.MatchesContextKey(contextKey) {
			continue
		}
		matched = append(matched, rule)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].RuleID < matched[j].RuleID
	})
	return matched, nil
}

// Active returns every enabled rule, for the periodic tick's sweep.
func (c *Cache) Active(ctx context.Context) ([]*models.Rule, error) {
	if err := c.revalidate(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	all := c.all
	loaded := c.loaded
	c.mu.RUnlock()

	if !loaded {
		fetched, err := c.source.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.all = fetched
		c.loaded = true
		c.mu.Unlock()
		all = fetched
	}

	active := make([]*models.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	return active, nil
}

// Invalidate drops all cached entries. Called by the pub/sub listener; the
// next Match refetches lazily.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType = make(map[string][]*models.Rule)
	c.all = nil
	c.loaded = false
	c.version = -1
}

// revalidate compares the cached version against the global counter and
// drops stale entries.
func (c *Cache) revalidate(ctx context.Context) error {
	version, err := c.source.Version(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.version {
		if c.version >= 0 && len(c.byType) > 0 {
			slog.Debug("Rule cache stale, invalidating",
				"cached_version", c.version,
				"current_version", version,
			)
		}
		c.byType = make(map[string][]*models.Rule)
		c.all = nil
		c.loaded = false
		c.version = version
	}
	return nil
}
