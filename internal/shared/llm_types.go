package shared

import "time"

// TokenUsage is the token accounting a generator reports for one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// AgentMeta describes one generator call for execution metrics. AgentName is
// planner.AgentWeek, AgentDay, AgentMeal or receipt.AgentReceipt; it stays
// empty when the request was refused before reaching the generator.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}

// Reached reports whether the call got as far as the generator.
func (m AgentMeta) Reached() bool {
	return m.AgentName != ""
}
