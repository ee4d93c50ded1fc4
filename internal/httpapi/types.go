package httpapi

import "ratelimit-gateway/internal/estimator"

// chatCompletionRequest is the wire shape of the request body, narrowed
// to the fields the gateway actually validates. Unknown fields are
// ignored, not rejected.
type chatCompletionRequest struct {
	Model     string              `json:"model"`
	Messages  []estimator.Message `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
}

// chatCompletionResponse is the OpenAI-shaped 200 envelope.
type chatCompletionResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []choiceResponse `json:"choices"`
	Usage   usageResponse    `json:"usage"`
	NodeID  string           `json:"node_id,omitempty"`
}

type choiceResponse struct {
	Index   int               `json:"index"`
	Message estimator.Message `json:"message"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type         string `json:"type"`
	Dimension    string `json:"dimension,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}
