package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// messageMaxFields bounds how many event data fields the message lists.
const messageMaxFields = 5

// BuildMessage formats the notification body for a triggered rule. The event
// may be nil for clock-driven fires with no current event.
func BuildMessage(rule *models.Rule, event *models.Event, result engine.Result) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("**%s**", rule.Name), "")

	if event != nil {
		lines = append(lines,
			fmt.Sprintf("**Trigger Time:** %s", event.Timestamp.Format("2006-01-02 15:04:05")),
			fmt.Sprintf("**Event Type:** %s", event.EventType),
			"",
		)
	}

	lines = append(lines, "**Decision:**", result.Reason)

	if result.Confidence > 0 {
		lines = append(lines, fmt.Sprintf("**Confidence:** %.0f%%", result.Confidence*100))
	}

	if event != nil && len(event.Data) > 0 {
		lines = append(lines, "", "**Event Data:**")
		keys := make([]string, 0, len(event.Data))
		for k := range event.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > messageMaxFields {
			keys = keys[:messageMaxFields]
		}
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %v", k, event.Data[k]))
		}
	}

	return strings.Join(lines, "\n")
}
