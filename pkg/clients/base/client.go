// Package base provides the shared resty HTTP client for every external
// service the QA pipeline talks to (LLM, embedding, Doc2X).
package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

type ClientError struct {
	Op         string
	Service    string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client: %s %s failed with status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func NewClientError(service, op string, err error) *ClientError {
	return &ClientError{Op: op, Service: service, Err: err}
}

func NewHTTPError(service, op string, statusCode int, body string) *ClientError {
	return &ClientError{Op: op, Service: service, StatusCode: statusCode, Err: fmt.Errorf("HTTP %d: %s", statusCode, body)}
}

// Options configures one provider endpoint.
//
// AuthHeader selects the credential header; empty means the OpenAI style
// "Authorization: Bearer <key>". Azure deployments pass "api-key".
type Options struct {
	BaseURL    string
	APIKey     string
	AuthHeader string
	Timeout    time.Duration
	RetryCount int
}

type HTTPClient struct {
	client  *resty.Client
	service string
}

func NewHTTPClient(service string, opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if opts.APIKey != "" {
		if opts.AuthHeader != "" {
			client.SetHeader(opts.AuthHeader, opts.APIKey)
		} else {
			client.SetHeader("Authorization", "Bearer "+opts.APIKey)
		}
	}

	client.AddRetryCondition(func(r *resty.Response, err error) bool { return err != nil || r.StatusCode() >= 500 })

	return &HTTPClient{client: client, service: service}
}

func (h *HTTPClient) Post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(result).Post(endpoint)
	if err != nil {
		return NewClientError(h.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// PostStream issues the request without parsing the response so callers can
// scan server-sent events from resp.RawBody(). The caller owns the close.
func (h *HTTPClient) PostStream(ctx context.Context, endpoint string, body interface{}) (*resty.Response, error) {
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetDoNotParseResponse(true).Post(endpoint)
	if err != nil {
		return nil, NewClientError(h.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		defer func() { _ = resp.RawBody().Close() }()
		payload, _ := io.ReadAll(resp.RawBody())
		return nil, NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), string(payload))
	}
	return resp, nil
}

func (h *HTTPClient) Get(ctx context.Context, endpoint string, params map[string]string, result interface{}) error {
	req := h.client.R().SetContext(ctx).SetResult(result)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return NewClientError(h.service, "GET "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "GET "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetRaw fetches an absolute URL and returns the body bytes. It bypasses
// the configured base URL and auth headers.
func (h *HTTPClient) GetRaw(ctx context.Context, url string) ([]byte, error) {
	resp, err := resty.New().R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, NewClientError(h.service, "GET raw", err)
	}
	if resp.StatusCode() != 200 {
		return nil, NewHTTPError(h.service, "GET raw", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func IsRetryableError(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	return clientErr.StatusCode >= 500 || clientErr.StatusCode == 0
}
