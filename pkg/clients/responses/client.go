// Package responses implements the llm.Client contract over the Responses
// API used by newer Azure OpenAI deployments. The wire format differs from
// chat completions: a single flattened input string plus an instructions
// field, max_output_tokens instead of max_tokens, and no sampling
// parameters at all.
package responses

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
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 2048

	// assistantLinePrefix marks prior assistant turns inside the flattened
	// input, since the Responses API takes one opaque input string.
	assistantLinePrefix = "[助手回复]: "

	streamDonePayload  = "[DONE]"
	eventTypeCompleted = "response.completed"
)

// Config carries one Responses API endpoint's settings.
type Config struct {
	Kind       string
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
		cfg.Kind = llm.KindAzure
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	httpClient := base.NewHTTPClient(cfg.Kind, base.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		AuthHeader: "api-key",
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	return &Client{httpClient: httpClient, cfg: cfg}
}

// Request is the Responses API request body.
type Request struct {
	Model           string `json:"model"`
	Instructions    string `json:"instructions,omitempty"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	Stream          bool   `json:"stream,omitempty"`
}

// Response is the synchronous Responses API reply.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// streamEvent is one SSE payload. Delta events carry the text fragment in
// Delta; the completed event carries the full response.
type streamEvent struct {
	Type     string    `json:"type"`
	Delta    string    `json:"delta"`
	Response *Response `json:"response,omitempty"`
}

func (c *Client) ModelName() string { return c.cfg.Model }

func (c *Client) Kind() string { return c.cfg.Kind }

func (c *Client) Available() bool { return c.cfg.APIKey != "" && c.cfg.BaseURL != "" }

// flattenInput renders the conversation into the single input string the
// Responses API expects: user turns verbatim, assistant turns prefixed.
func flattenInput(messages []llm.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			sb.WriteString(assistantLinePrefix)
			sb.WriteString(msg.Content)
		default:
			sb.WriteString(msg.Content)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func (c *Client) buildRequest(req llm.Request, stream bool) Request {
	model := c.cfg.Model
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	return Request{
		Model:           model,
		Instructions:    req.SystemPrompt,
		Input:           flattenInput(req.Messages),
		MaxOutputTokens: maxTokens,
		Stream:          stream,
	}
}

func extractText(resp *Response) (string, bool) {
	for _, out := range resp.Output {
		for _, content := range out.Content {
			if content.Text != "" {
				return content.Text, true
			}
		}
	}
	return "", false
}

// Chat performs a blocking generation and returns the first output text.
func (c *Client) Chat(ctx context.Context, req llm.Request) (string, error) {
	var result Response
	if err := c.httpClient.Post(ctx, "/responses", c.buildRequest(req, false), &result); err != nil {
		return "", llm.Classify(c.cfg.Kind, err)
	}
	text, ok := extractText(&result)
	if !ok {
		return "", llm.NewError(llm.KindService, c.cfg.Kind, fmt.Errorf("response contained no output text"))
	}
	return text, nil
}

// StreamChat starts a streaming generation following the same channel
// contract as the chat completions client.
func (c *Client) StreamChat(ctx context.Context, req llm.Request) (<-chan string, <-chan error, error) {
	resp, err := c.httpClient.PostStream(ctx, "/responses", c.buildRequest(req, true))
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

			var event streamEvent
			if err := sonic.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.Type == eventTypeCompleted {
				return
			}

			delta := event.Delta
			if delta == "" && event.Response != nil {
				// Some gateways only ship the aggregate on the final event.
				delta, _ = extractText(event.Response)
			}
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
