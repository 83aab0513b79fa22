package domain

import "context"

// Provider is the interface all model providers implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Model        string
	MaxTokens    int
	Temperature  float64
}

type ChatResponse struct {
	Content   string
	Usage     *Usage
	LatencyMs int64
}

// ChatMessage is one role-tagged entry of the sequence sent to the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the parsed result of one model invocation.
// Content has every call block removed; RawContent keeps them.
type Response struct {
	Content       string
	RawContent    string
	FunctionCalls []FunctionCall
	Malformed     []MalformedCall
	Usage         *Usage
}

// HasFunctionCalls reports whether the model asked for any action,
// including blocks that were rejected as malformed.
func (r *Response) HasFunctionCalls() bool {
	return len(r.FunctionCalls) > 0 || len(r.Malformed) > 0
}
