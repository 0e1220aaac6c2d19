// Package llm implements LLM-backed rule evaluation: prompt assembly, the
// OpenAI-compatible model call, structured response parsing with a
// confidence gate, a short-TTL response cache, and the trigger-mode
// controller that decides when inference actually runs.
package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a professional event analysis assistant. Your task is to analyze events and determine whether they match user-defined rules.

You will receive:
1. A user-defined rule description
2. Historical context (recent events in a time window)
3. Current event data

Based on this information, you need to:
1. Analyze whether the current event (combined with historical context) satisfies the user's rule
2. Provide a confidence score (0.0 to 1.0)
3. Explain your reasoning

Always respond in JSON format with the following structure:
{
  "should_trigger": true/false,
  "confidence": 0.0-1.0,
  "reason": "Detailed explanation of your decision"
}

Important guidelines:
- Be conservative: only trigger when you are reasonably confident
- Consider temporal patterns when the rule involves sequences or trends
- Use specific data from the events to support your reasoning
- If the data is insufficient to make a determination, set should_trigger to false`

// BuildPrompt assembles the system and user prompts for a single-event
// analysis.
func BuildPrompt(ruleDescription, contextSummary, eventType, eventTimestamp, eventData string) (string, string) {
	if contextSummary == "" {
		contextSummary = emptyWindowSummary
	}

	var sb strings.Builder
	sb.WriteString("## User Rule\n")
	sb.WriteString(ruleDescription)
	sb.WriteString("\n\n## Historical Context\n")
	sb.WriteString(contextSummary)
	sb.WriteString("\n\n## Current Event\n")
	fmt.Fprintf(&sb, "Type: %s\nTime: %s\nData: %s\n", eventType, eventTimestamp, eventData)
	sb.WriteString("\nPlease analyze whether this event satisfies the user's rule. Respond in JSON format.")

	return systemPrompt, sb.String()
}

// BuildBatchPrompt assembles the prompts for an accumulated-batch or
// clock-driven analysis. currentEvents holds the formatted batch snapshot;
// an empty string means no new events arrived and the window alone is under
// analysis.
func BuildBatchPrompt(ruleDescription, contextSummary, currentEvents string) (string, string) {
	if contextSummary == "" {
		contextSummary = emptyWindowSummary
	}
	if currentEvents == "" {
		currentEvents = "No new events; analyze the historical context as a whole."
	}

	var sb strings.Builder
	sb.WriteString("## User Rule\n")
	sb.WriteString(ruleDescription)
	sb.WriteString("\n\n## Historical Context\n")
	sb.WriteString(contextSummary)
	sb.WriteString("\n\n## Current Events Under Analysis\n")
	sb.WriteString(currentEvents)
	sb.WriteString("\n\nPlease analyze whether these events satisfy the user's rule. Respond in JSON format.")

	return systemPrompt, sb.String()
}
