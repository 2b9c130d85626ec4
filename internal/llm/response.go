package llm

// Response wraps a completion result.
type Response struct {
	Content string `json:"content"`
	// Reasoning carries the model's reasoning trace when the backend
	// exposes one (e.g. reasoning_content on OpenAI-compatible APIs).
	Reasoning    string `json:"reasoning,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
}
