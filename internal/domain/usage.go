package domain

import "time"

type UsageCounts struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Consistent reports whether every counter is non-negative and the total is
// the sum of the prompt and completion counters.
func (u UsageCounts) Consistent() bool {
	if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.TotalTokens < 0 {
		return false
	}
	return u.TotalTokens == u.PromptTokens+u.CompletionTokens
}

// UsageRecord is one persisted token usage event. Timestamp is milliseconds
// since the Unix epoch.
type UsageRecord struct {
	ID               int64  `json:"id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Timestamp        int64  `json:"timestamp"`
	Model            string `json:"model,omitempty"`
}

func (r UsageRecord) Counts() UsageCounts {
	return UsageCounts{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}
}

func (r UsageRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

type UsageTotals struct {
	Requests         int `json:"requests"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
