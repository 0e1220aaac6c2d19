package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

const emptyWindowSummary = "No historical events in context window."

// summaryMaxEvents bounds how many individual events the summary lists.
const summaryMaxEvents = 10

// sensitiveFragments are dropped from transmitted event data.
var sensitiveFragments = []string{"secret", "password", "token", "api_key", "credential"}

// Summarize renders a context window as a compact, chronologically ordered
// structured list for the LLM prompt. Returns the empty-window sentence when
// there are no events.
func Summarize(events []models.Event) string {
	if len(events) == 0 {
		return emptyWindowSummary
	}

	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	first := sorted[0].Timestamp
	last := sorted[len(sorted)-1].Timestamp

	var sb strings.Builder
	fmt.Fprintf(&sb, "Event Type: %s\n", sorted[0].EventType)
	fmt.Fprintf(&sb, "Time Range: %s - %s (%s)\n",
		first.Format("15:04:05"), last.Format("15:04:05"), formatDuration(last.Sub(first)))
	fmt.Fprintf(&sb, "Total Events: %d\n\nRecent Events:\n", len(sorted))

	recent := sorted
	if len(recent) > summaryMaxEvents {
		recent = recent[len(recent)-summaryMaxEvents:]
	}
	for i, ev := range recent {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, ev.Timestamp.Format("15:04:05"), formatData(ev.Data))
	}

	if stats := numericStats(sorted); len(stats) > 0 {
		sb.WriteString("\nStatistics:\n")
		for _, line := range stats {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatEvents renders a batch snapshot as a numbered chronological list.
func FormatEvents(events []models.Event) string {
	if len(events) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, ev := range events {
		fmt.Fprintf(&sb, "%d. [%s] type=%s %s\n",
			i+1, ev.Timestamp.Format("15:04:05"), ev.EventType, formatData(ev.Data))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatData renders event data as compact JSON with sensitive keys removed.
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return "(no data)"
	}

	safe := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			continue
		}
		safe[k] = v
	}
	if len(safe) == 0 {
		return "(no data)"
	}

	encoded, err := json.Marshal(safe)
	if err != nil {
		return "(unserializable data)"
	}
	s := string(encoded)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// numericStats reports min/max/avg for numeric fields present in most events.
func numericStats(events []models.Event) []string {
	type agg struct {
		min, max, sum float64
		count         int
	}
	aggs := map[string]*agg{}
	for _, ev := range events {
		for k, v := range ev.Data {
			f, ok := asFloat(v)
			if !ok || isSensitiveKey(k) {
				continue
			}
			a, exists := aggs[k]
			if !exists {
				a = &agg{min: f, max: f}
				aggs[k] = a
			}
			if f < a.min {
				a.min = f
			}
			if f > a.max {
				a.max = f
			}
			a.sum += f
			a.count++
		}
	}

	keys := make([]string, 0, len(aggs))
	for k, a := range aggs {
		if a.count*2 >= len(events) { // only fields present in most events
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		a := aggs[k]
		lines = append(lines, fmt.Sprintf("- %s: min=%.4g max=%.4g avg=%.4g",
			k, a.min, a.max, a.sum/float64(a.count)))
	}
	return lines
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
