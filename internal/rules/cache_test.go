package rules

import (
	"context"
	"testing"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// fakeSource is a test fake for the rule repository.
type fakeSource struct {
	version     int64
	rules       []*models.Rule
	versionHits int
	listHits    int
}

func (f *fakeSource) Version(ctx context.Context) (int64, error) {
	f.versionHits++
	return f.version, nil
}

func (f *fakeSource) ListByEventType(ctx context.Context, eventType string) ([]*models.Rule, error) {
	f.listHits++
	var out []*models.Rule
	for _, r := range f.rules {
		if r.MatchesEventType(eventType) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ListAll(ctx context.Context) ([]*models.Rule, error) {
	f.listHits++
	return f.rules, nil
}

func mkRule(id string, priority int, enabled bool, eventTypes []string, contextKeys []string) *models.Rule {
	return &models.Rule{
		RuleID:      id,
		Name:        id,
		Enabled:     enabled,
		Priority:    priority,
		EventTypes:  eventTypes,
		ContextKeys: contextKeys,
		RuleConfig: models.RuleConfig{
			Kind:      models.KindExpression,
			PreFilter: &models.PreFilter{Expression: "x > 0"},
		},
	}
}

func TestCacheMatch_FiltersAndSorts(t *testing.T) {
	source := &fakeSource{
		version: 1,
		rules: []*models.Rule{
			mkRule("b-low", 10, true, []string{"trade.profit"}, nil),
			mkRule("a-high", 100, true, []string{"trade.profit"}, nil),
			mkRule("b-high", 100, true, []string{"trade.profit"}, nil),
			mkRule("disabled", 200, false, []string{"trade.profit"}, nil),
			mkRule("other-type", 50, true, []string{"price.change"}, nil),
			mkRule("wrong-key", 50, true, []string{"trade.profit"}, []string{"price.*"}),
		},
	}
	cache := NewCache(source)

	matched, err := cache.Match(context.Background(), "trade.profit", "trade.profit.BTC")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	got := make([]string, len(matched))
	for i, r := range matched {
		got[i] = r.RuleID
	}
	want := []string{"a-high", "b-high", "b-low"}
	if len(got) != len(want) {
		t.Fatalf("Match() returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Match()[%d] = %q, want %q (priority desc, rule_id asc)", i, got[i], want[i])
		}
	}
}

func TestCacheMatch_ContextKeyGlob(t *testing.T) {
	source := &fakeSource{
		version: 1,
		rules: []*models.Rule{
			mkRule("btc-only", 10, true, []string{"trade.profit"}, []string{"trade.profit.BTC"}),
			mkRule("all-trades", 10, true, []string{"trade.profit"}, []string{"trade.*"}),
		},
	}
	cache := NewCache(source)

	matched, err := cache.Match(context.Background(), "trade.profit", "trade.profit.ETH")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matched) != 1 || matched[0].RuleID != "all-trades" {
		t.Errorf("Match() = %v rules, want only all-trades", len(matched))
	}
}

func TestCacheMatch_ReusesUntilVersionChanges(t *testing.T) {
	source := &fakeSource{
		version: 1,
		rules:   []*models.Rule{mkRule("r1", 10, true, []string{"e"}, nil)},
	}
	cache := NewCache(source)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Match(ctx, "e", "k"); err != nil {
			t.Fatalf("Match() error = %v", err)
		}
	}
	if source.listHits != 1 {
		t.Errorf("listHits = %d, want 1 (cache should serve repeated matches)", source.listHits)
	}

	// Version bump forces a refetch.
	source.version = 2
	source.rules = append(source.rules, mkRule("r2", 20, true, []string{"e"}, nil))
	matched, err := cache.Match(ctx, "e", "k")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if source.listHits != 2 {
		t.Errorf("listHits = %d, want 2 after version bump", source.listHits)
	}
	if len(matched) != 2 {
		t.Errorf("Match() = %d rules after refetch, want 2", len(matched))
	}
}

func TestCacheInvalidate_ForcesRefetch(t *testing.T) {
	source := &fakeSource{
		version: 1,
		rules:   []*models.Rule{mkRule("r1", 10, true, []string{"e"}, nil)},
	}
	cache := NewCache(source)
	ctx := context.Background()

	if _, err := cache.Match(ctx, "e", "k"); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Match(ctx, "e", "k"); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if source.listHits != 2 {
		t.Errorf("listHits = %d, want 2 after explicit invalidation", source.listHits)
	}
}

func TestCacheActive_FiltersDisabled(t *testing.T) {
	source := &fakeSource{
		version: 1,
		rules: []*models.Rule{
			mkRule("on", 10, true, []string{"e"}, nil),
			mkRule("off", 10, false, []string{"e"}, nil),
		},
	}
	cache := NewCache(source)

	active, err := cache.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 || active[0].RuleID != "on" {
		t.Errorf("Active() = %d rules, want only the enabled one", len(active))
	}
}
