// Package openai implements the llm.Client contract over the Chat
// Completions wire format. The same client serves OpenAI-compatible
// endpoints (OpenAI, DashScope compatible mode, Azure chat deployments);
// only the base URL and credential header differ.
package openai

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/spike2204/intelligent-qa/pkg/clients/base"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7

	// streamDonePayload terminates a chat completions SSE stream.
	streamDonePayload = "[DONE]"
)

// Config carries one chat endpoint's settings.
type Config struct {
	Kind       string // llm.KindOpenAI, llm.KindDashScope or llm.KindAzure
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxTokens  int
	RetryCount int
}

type Client struct {
	httpClient *base.HTTPClient
	cfg        Config
}

var _ llm.Client = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Kind == "" {
		cfg.Kind = llm.KindOpenAI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	authHeader := ""
	if cfg.Kind == llm.KindAzure {
		// Azure wants the key in a dedicated header instead of a Bearer token.
		authHeader = "api-key"
	}

	httpClient := base.NewHTTPClient(cfg.Kind, base.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		AuthHeader: authHeader,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	return &Client{httpClient: httpClient, cfg: cfg}
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// streamChunk is one SSE data payload of a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) ModelName() string { return c.cfg.Model }

func (c *Client) Kind() string { return c.cfg.Kind }

func (c *Client) Available() bool { return c.cfg.APIKey != "" && c.cfg.BaseURL != "" }

func (c *Client) buildRequest(req llm.Request, stream bool) ChatRequest {
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	model := c.cfg.Model
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	return ChatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

// Chat performs a blocking completion and returns the first choice.
func (c *Client) Chat(ctx context.Context, req llm.Request) (string, error) {
	var result ChatResponse
	if err := c.httpClient.Post(ctx, "/chat/completions", c.buildRequest(req, false), &result); err != nil {
		return "", llm.Classify(c.cfg.Kind, err)
	}
	if len(result.Choices) == 0 {
		return "", llm.NewError(llm.KindService, c.cfg.Kind, fmt.Errorf("completion returned no choices"))
	}
	return result.Choices[0].Message.Content, nil
}

// StreamChat starts a streaming completion. Deltas arrive on the returned
// string channel; the error channel delivers at most one terminal error.
func (c *Client) StreamChat(ctx context.Context, req llm.Request) (<-chan string, <-chan error, error) {
	resp, err := c.httpClient.PostStream(ctx, "/chat/completions", c.buildRequest(req, true))
	if err != nil {
		return nil, nil, llm.Classify(c.cfg.Kind, err)
	}

	contentCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)
		defer func() { _ = resp.RawBody().Close() }()

		scanner := bufio.NewScanner(resp.RawBody())
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == streamDonePayload {
				return
			}

			var chunk streamChunk
			if err := sonic.Unmarshal([]byte(payload), &chunk); err != nil {
				// Skip malformed keep-alive frames rather than killing the stream.
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			select {
			case contentCh <- delta:
			case <-ctx.Done():
				errCh <- llm.Classify(c.cfg.Kind, ctx.Err())
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- llm.Classify(c.cfg.Kind, err)
		}
	}()

	return contentCh, errCh, nil
}
