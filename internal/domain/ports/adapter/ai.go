package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single chat call. Provider and Model name who actually
// answered; they are set by the router and may differ from the request
// after a failover.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Provider         string
	Model            string
}

// AIServiceAdapter is the port for the LLM call made by the compute worker.
type AIServiceAdapter interface {
	Provider() string
	DefaultModel() string

	// CountTokens returns prompt tokens for the messages
	// (best-effort when exact counting isn't available).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, model string, messages []Message) (string, Usage, error)
}
