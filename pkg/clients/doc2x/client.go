// Package doc2x converts scanned PDFs to markdown through a
// Doc2X-compatible parsing API: upload the raw bytes, poll until the parse
// finishes, then join the per-page markdown.
package doc2x

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spike2204/intelligent-qa/pkg/clients/base"
)

const serviceName = "doc2x"

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 5 * time.Second
	ProcessingTimeout   = 5 * time.Minute
)

// DocumentConverter is the conversion surface the PDF parser falls back to
// when native text extraction comes up empty.
type DocumentConverter interface {
	UploadPDF(ctx context.Context, pdfData []byte) (*UploadResponse, error)
	GetStatus(ctx context.Context, uid string) (*StatusResponse, error)
	WaitForParsing(ctx context.Context, uid string, pollInterval time.Duration) (*StatusResponse, error)
	ConvertToMarkdown(ctx context.Context, pdfData []byte) (string, error)
}

// Config carries the Doc2X endpoint settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	httpClient *base.HTTPClient
}

var _ DocumentConverter = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := base.NewHTTPClient(serviceName, base.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	return &Client{httpClient: httpClient}
}

type UploadResponse struct {
	Code string `json:"code"`
	Data struct {
		UID string `json:"uid"`
	} `json:"data"`
}

type StatusResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data *struct {
		Progress int    `json:"progress"`
		Status   string `json:"status"`
		Detail   string `json:"detail"`
		Result   *struct {
			Version string `json:"version"`
			Pages   []struct {
				URL        string `json:"url"`
				PageIdx    int    `json:"page_idx"`
				PageWidth  int    `json:"page_width"`
				PageHeight int    `json:"page_height"`
				Md         string `json:"md"`
			} `json:"pages"`
		} `json:"result"`
	} `json:"data"`
}

func (c *Client) UploadPDF(ctx context.Context, pdfData []byte) (*UploadResponse, error) {
	var result UploadResponse
	if err := c.httpClient.Post(ctx, "/api/v2/parse/pdf", pdfData, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetStatus(ctx context.Context, uid string) (*StatusResponse, error) {
	var result StatusResponse
	params := map[string]string{"uid": uid}
	if err := c.httpClient.Get(ctx, "/api/v2/parse/status", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForParsing polls until the parse succeeds, fails, or ctx expires.
func (c *Client) WaitForParsing(ctx context.Context, uid string, pollInterval time.Duration) (*StatusResponse, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	for {
		status, err := c.GetStatus(ctx, uid)
		if err != nil {
			// A transient upstream failure does not end the parse; keep
			// polling until the context deadline bounds the attempt.
			if !base.IsRetryableError(err) {
				return nil, err
			}
		} else {
			if status.Code != "success" {
				return nil, base.NewClientError(serviceName, "wait for parsing", fmt.Errorf("parse failed: %s - %s", status.Code, status.Msg))
			}
			if status.Data == nil {
				return nil, base.NewClientError(serviceName, "wait for parsing", fmt.Errorf("status response missing data"))
			}

			switch status.Data.Status {
			case "success":
				return status, nil
			case "failed":
				return nil, base.NewClientError(serviceName, "wait for parsing", fmt.Errorf("parse failed: %s", status.Data.Detail))
			}
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, base.NewClientError(serviceName, "wait for parsing", ctx.Err())
		}
	}
}

// ConvertToMarkdown runs the full upload/poll/join cycle and returns the
// document as one markdown string.
func (c *Client) ConvertToMarkdown(ctx context.Context, pdfData []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	upload, err := c.UploadPDF(ctx, pdfData)
	if err != nil {
		return "", err
	}
	if upload.Code != "success" || upload.Data.UID == "" {
		return "", base.NewClientError(serviceName, "upload pdf", fmt.Errorf("upload rejected: %s", upload.Code))
	}

	status, err := c.WaitForParsing(ctx, upload.Data.UID, DefaultPollInterval)
	if err != nil {
		return "", err
	}
	if status.Data == nil || status.Data.Result == nil {
		return "", base.NewClientError(serviceName, "convert", fmt.Errorf("parse finished without result"))
	}

	var sb strings.Builder
	for _, page := range status.Data.Result.Pages {
		md := page.Md
		if md == "" && page.URL != "" {
			// Some responses reference the page markdown by URL instead
			// of inlining it.
			raw, fetchErr := c.httpClient.GetRaw(ctx, page.URL)
			if fetchErr != nil {
				return "", fetchErr
			}
			md = string(raw)
		}
		if md == "" {
			continue
		}
		sb.WriteString(md)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
