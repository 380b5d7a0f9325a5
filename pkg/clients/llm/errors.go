package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/spike2204/intelligent-qa/pkg/clients/base"
)

// ErrorKind buckets provider failures so HTTP handlers and the fallback
// logic can react without inspecting provider-specific payloads.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "RATE_LIMIT"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindAuth           ErrorKind = "AUTH"
	KindNetwork        ErrorKind = "NETWORK"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindService        ErrorKind = "SERVICE"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Service string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm: %s [%s]: %v", e.Service, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, service string, err error) *Error {
	return &Error{Kind: kind, Service: service, Err: err}
}

// Classify wraps err in an Error with a kind derived from the transport
// failure: HTTP status when one exists, context state otherwise. Errors
// already classified pass through unchanged.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, service, err)
	}

	var clientErr *base.ClientError
	if errors.As(err, &clientErr) {
		switch {
		case clientErr.StatusCode == 401 || clientErr.StatusCode == 403:
			return NewError(KindAuth, service, err)
		case clientErr.StatusCode == 429:
			return NewError(KindRateLimit, service, err)
		case clientErr.StatusCode == 408 || clientErr.StatusCode == 504:
			return NewError(KindTimeout, service, err)
		case clientErr.StatusCode >= 500:
			return NewError(KindService, service, err)
		case clientErr.StatusCode == 0:
			return NewError(KindNetwork, service, err)
		default:
			return NewError(KindInvalidRequest, service, err)
		}
	}

	return NewError(KindService, service, err)
}

// KindOf extracts the classification from err, or KindService when err was
// never classified.
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return KindService
}
