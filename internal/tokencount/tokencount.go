// Package tokencount provides token estimation for usage recording when the
// upstream does not report counts. Uses a character-based heuristic
// (~4 chars per token for English) which is sufficient for spend accounting.
package tokencount

import (
	gateway "github.com/mattdarbro/studio-api/internal"
)

// Counter estimates token counts for requests and text.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the total token count for a chat request,
// accounting for per-message overhead (role, formatting).
func (c *Counter) EstimateRequest(messages []gateway.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += 4 // per-message framing overhead
		total += estimateTokens(m.Role)
		total += estimateTokens(string(m.Content))
		if m.Name != "" {
			total += estimateTokens(m.Name) + 1
		}
	}
	total += 3 // reply priming
	return total
}

// CountText estimates tokens for a plain text string. Empty text is 0.
func (c *Counter) CountText(text string) int {
	return estimateTokens(text)
}

// estimateTokens uses a ~4 characters per token heuristic with ceil division.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
