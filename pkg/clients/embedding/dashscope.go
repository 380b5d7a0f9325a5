package embedding

import (
	"context"
	"sort"

	"github.com/spike2204/intelligent-qa/pkg/clients/base"
)

// dashScopeEndpoint is the native text embedding path under the DashScope
// API root.
const dashScopeEndpoint = "/services/embeddings/text-embedding/text-embedding"

// DashScopeClient talks to the native DashScope embedding API, whose
// request and response envelopes differ from the OpenAI-compatible shape.
type DashScopeClient struct {
	httpClient *base.HTTPClient
	cfg        Config
}

var _ Embedder = (*DashScopeClient)(nil)

func NewDashScopeClient(cfg Config) *DashScopeClient {
	cfg.applyDefaults()
	httpClient := base.NewHTTPClient("embedding", base.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	return &DashScopeClient{httpClient: httpClient, cfg: cfg}
}

type dashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Texts []string `json:"texts"`
	} `json:"input"`
	Parameters struct {
		TextType string `json:"text_type"`
	} `json:"parameters"`
}

type dashScopeResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

func (c *DashScopeClient) Dimension() int { return c.cfg.Dimension }

func (c *DashScopeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, base.NewClientError("embedding", "embed", errNoEmbeddings)
	}
	return vectors[0], nil
}

func (c *DashScopeClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (c *DashScopeClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	req := dashScopeRequest{Model: c.cfg.Model}
	req.Input.Texts = texts
	req.Parameters.TextType = "document"

	var result dashScopeResponse
	if err := c.httpClient.Post(ctx, dashScopeEndpoint, req, &result); err != nil {
		return nil, err
	}

	embeddings := result.Output.Embeddings
	sort.Slice(embeddings, func(i, j int) bool { return embeddings[i].TextIndex < embeddings[j].TextIndex })

	vectors := make([][]float32, 0, len(embeddings))
	for _, e := range embeddings {
		vectors = append(vectors, toFloat32(e.Embedding))
	}
	return vectors, nil
}
