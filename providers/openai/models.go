package openai

// DefaultBaseURL is the default OpenAI API endpoint
const DefaultBaseURL = "https://api.openai.com/v1"

// DefaultModel is used when no model is configured
const DefaultModel = "gpt-4o-mini"

// chatRequest is the chat-completions request body
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat enforces structured-JSON output
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the chat-completions response body
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
