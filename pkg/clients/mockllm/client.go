// Package mockllm is a deterministic in-process chat model used when no
// real provider is configured. It echoes part of the question so retrieval
// wiring can be exercised end to end without credentials.
package mockllm

import (
	"context"
	"fmt"
	"time"

	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
)

const (
	DefaultModelName = "mock-model"
	DefaultCharDelay = 30 * time.Millisecond

	// questionEchoLimit caps how much of the question the canned answer
	// repeats back.
	questionEchoLimit = 50
)

type Client struct {
	model     string
	charDelay time.Duration
}

var _ llm.Client = (*Client)(nil)

// NewClient returns a mock model streaming one rune every charDelay.
// A non-positive delay streams as fast as the consumer reads.
func NewClient(model string, charDelay time.Duration) *Client {
	if model == "" {
		model = DefaultModelName
	}
	return &Client{model: model, charDelay: charDelay}
}

func (c *Client) ModelName() string { return c.model }

func (c *Client) Kind() string { return llm.KindMock }

func (c *Client) Available() bool { return true }

func lastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func (c *Client) answer(req llm.Request) string {
	question := truncateRunes(lastUserContent(req.Messages), questionEchoLimit)
	return fmt.Sprintf("这是模拟模型的回答。您的问题是：%s。This is a mock answer generated for local development.", question)
}

func (c *Client) Chat(_ context.Context, req llm.Request) (string, error) {
	return c.answer(req), nil
}

func (c *Client) StreamChat(ctx context.Context, req llm.Request) (<-chan string, <-chan error, error) {
	contentCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)

		for _, r := range c.answer(req) {
			select {
			case contentCh <- string(r):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			if c.charDelay > 0 {
				select {
				case <-time.After(c.charDelay):
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()

	return contentCh, errCh, nil
}
