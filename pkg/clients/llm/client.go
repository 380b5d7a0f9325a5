// Package llm defines the chat model contract shared by every provider
// implementation: one synchronous call, one streaming call with the
// delta/error channel pair, and enough identity for fallback routing.
package llm

import "context"

// Message roles on the chat wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider kinds. A client reports one of these from Kind so the router
// can resolve "modelType" hints from requests.
const (
	KindOpenAI    = "openai"
	KindDashScope = "dashscope"
	KindAzure     = "azure"
	KindMock      = "mock"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call. Zero MaxTokens means the client's
// configured default; Temperature is sent verbatim, so callers always set
// it. ModelOverride switches the model name for this call only.
type Request struct {
	SystemPrompt  string
	Messages      []Message
	MaxTokens     int
	Temperature   float64
	ModelOverride string
}

// Client is a chat completion provider.
//
// StreamChat returns two channels: content deltas arrive in generation
// order on the first, and a terminal error (or a close with no value for a
// clean finish) on the second. Both channels are closed by the client.
// Cancelling ctx stops the stream.
type Client interface {
	ModelName() string
	Kind() string
	Available() bool
	Chat(ctx context.Context, req Request) (string, error)
	StreamChat(ctx context.Context, req Request) (<-chan string, <-chan error, error)
}
