package domain

// SystemPrompt is sent as the first message of every chat completion.
const SystemPrompt = "You are a helpful assistant."

// ChatExchange lives for a single request/response cycle and is never persisted.
type ChatExchange struct {
	SystemPrompt string
	UserText     string
	ReplyText    string
	Usage        UsageCounts
	Model        string
	FinishReason string
	ResponseID   string
}

// Transcript is the best recognition result of one listen attempt.
type Transcript struct {
	Text    string
	Session string
}
