// Package embedding provides the text embedding providers used to build
// and query the dense index. All providers return float32 vectors of a
// fixed dimension; callers never see the provider wire formats.
package embedding

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/spike2204/intelligent-qa/pkg/clients/base"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultBatchSize = 16
	DefaultDimension = 1024
)

var errNoEmbeddings = errors.New("provider returned no embeddings")

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config selects and tunes one embedding provider.
//
// Kind is one of openai, dashscope, azure, mock. The openai and azure kinds
// share the OpenAI-compatible /embeddings wire format and differ only in
// the credential header; dashscope uses its native API shape.
type Config struct {
	Kind       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	BatchSize  int
	Timeout    time.Duration
	RetryCount int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
}

// New builds the provider named by cfg.Kind. Unknown kinds fall back to the
// mock provider so a bare config still boots.
func New(cfg Config) Embedder {
	cfg.applyDefaults()
	switch cfg.Kind {
	case "openai", "azure":
		return NewClient(cfg)
	case "dashscope":
		return NewDashScopeClient(cfg)
	default:
		return NewMockEmbedder(cfg.Dimension)
	}
}

// Client talks to OpenAI-compatible /embeddings endpoints.
type Client struct {
	httpClient *base.HTTPClient
	cfg        Config
}

var _ Embedder = (*Client)(nil)

func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	authHeader := ""
	if cfg.Kind == "azure" {
		authHeader = "api-key"
	}
	httpClient := base.NewHTTPClient("embedding", base.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		AuthHeader: authHeader,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	return &Client{httpClient: httpClient, cfg: cfg}
}

type Request struct {
	Model          string      `json:"model"`
	Input          interface{} `json:"input"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
	Dimensions     int         `json:"dimensions,omitempty"`
}

type Data struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	Object string `json:"object"`
	Model  string `json:"model"`
	Data   []Data `json:"data"`
	Usage  Usage  `json:"usage"`
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedOnce(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, base.NewClientError("embedding", "embed", errNoEmbeddings)
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in request-sized slices, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (c *Client) embedOnce(ctx context.Context, input interface{}) ([][]float32, error) {
	req := Request{Model: c.cfg.Model, Input: input, EncodingFormat: "float"}

	var result Response
	if err := c.httpClient.Post(ctx, "/embeddings", req, &result); err != nil {
		return nil, err
	}

	// Providers document in-order results but index is authoritative.
	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })

	vectors := make([][]float32, 0, len(result.Data))
	for _, data := range result.Data {
		vectors = append(vectors, toFloat32(data.Embedding))
	}
	return vectors, nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
