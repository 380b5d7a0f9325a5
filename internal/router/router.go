// Package router owns the chat model clients: it builds the primary and
// fallback clients from configuration, resolves model-type hints from
// requests, and runs the hierarchy prediction used to pre-filter dense
// search.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/prompts"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/clients/mockllm"
	"github.com/spike2204/intelligent-qa/pkg/clients/openai"
	"github.com/spike2204/intelligent-qa/pkg/clients/responses"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

const (
	// maxHierarchyCandidates caps the section list sent to the model.
	maxHierarchyCandidates = 20

	predictionMaxTokens = 50
	noneAnswer          = "NONE"
)

// Router dispatches between the primary and fallback chat clients.
type Router struct {
	primary         llm.Client
	fallback        llm.Client
	fallbackEnabled bool
}

// New builds the clients described by cfg. A fallback with type "none" or
// Enabled=false leaves fallover disabled.
func New(cfg config.Config) *Router {
	r := &Router{primary: buildClient(cfg.LLM, cfg.Retry)}

	if cfg.Fallback.Enabled && !strings.EqualFold(cfg.Fallback.Type, "none") {
		r.fallback = buildClient(cfg.Fallback.LLMConfig, cfg.Retry)
		r.fallbackEnabled = true
	}
	return r
}

// NewWithClients wires explicit clients, used by tests and custom setups.
func NewWithClients(primary, fallback llm.Client) *Router {
	return &Router{primary: primary, fallback: fallback, fallbackEnabled: fallback != nil}
}

func buildClient(cfg config.LLMConfig, retry config.RetryConfig) llm.Client {
	if strings.EqualFold(cfg.Type, llm.KindMock) || cfg.Type == "" {
		return mockllm.NewClient(cfg.Model, mockllm.DefaultCharDelay)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if strings.EqualFold(cfg.APIType, "responses") {
		return responses.NewClient(responses.Config{
			Kind:       strings.ToLower(cfg.Type),
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    timeout,
			MaxTokens:  cfg.MaxTokens,
			RetryCount: retry.MaxAttempts,
		})
	}
	return openai.NewClient(openai.Config{
		Kind:       strings.ToLower(cfg.Type),
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    timeout,
		MaxTokens:  cfg.MaxTokens,
		RetryCount: retry.MaxAttempts,
	})
}

// Primary returns the default client.
func (r *Router) Primary() llm.Client { return r.primary }

// Client resolves a model-type hint from a request: the hint matches a
// client when either string contains the other. An empty or unknown hint
// resolves to the primary.
func (r *Router) Client(kind string) llm.Client {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return r.primary
	}
	for _, c := range []llm.Client{r.primary, r.fallback} {
		if c == nil {
			continue
		}
		ck := strings.ToLower(c.Kind())
		if strings.Contains(ck, kind) || strings.Contains(kind, ck) {
			return c
		}
	}
	return r.primary
}

// Fallback returns the standby for current, or current itself when
// fallover is disabled or would land on the same client.
func (r *Router) Fallback(current llm.Client) llm.Client {
	if !r.fallbackEnabled || r.fallback == nil {
		return current
	}
	if current != nil && r.fallback.Kind() == current.Kind() && r.fallback.ModelName() == current.ModelName() {
		return current
	}
	return r.fallback
}

// PredictHierarchy asks the model which section of a document a query most
// likely concerns. The prediction is advisory: any failure, an empty
// answer, or NONE returns "" and the caller searches unfiltered.
func (r *Router) PredictHierarchy(ctx context.Context, query string, hierarchies []string) string {
	if len(hierarchies) == 0 {
		return ""
	}
	if len(hierarchies) > maxHierarchyCandidates {
		hierarchies = hierarchies[:maxHierarchyCandidates]
	}

	answer, err := r.primary.Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompts.HierarchyPrediction(query, hierarchies)}},
		MaxTokens:   predictionMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		logger.Get().Warn("层级预测失败，跳过层级过滤", "error", err)
		return ""
	}

	answer = strings.Trim(strings.TrimSpace(answer), "\"'“”‘’「」")
	if answer == "" || strings.EqualFold(answer, noneAnswer) {
		return ""
	}

	// Substring containment either way: the model may echo a partial path
	// or wrap the path in extra words.
	for _, h := range hierarchies {
		if strings.Contains(answer, h) || strings.Contains(h, answer) {
			return h
		}
	}
	return ""
}
