// Package parser turns uploaded files into normalized text. Markdown
// heading markers are preserved in the output because the chunker's
// heading stage keys off them.
package parser

import (
	"context"
	"fmt"
	"strings"
)

// ProcessError marks input the pipeline could not turn into text. The HTTP
// layer maps it to 422.
type ProcessError struct {
	Filename string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("parser: failed to process %s: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("parser: failed to process document: %v", e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func NewProcessError(filename string, err error) *ProcessError {
	return &ProcessError{Filename: filename, Err: err}
}

// Parser extracts text from one family of file types.
type Parser interface {
	// Parse converts raw file bytes into normalized text.
	Parse(ctx context.Context, filename string, data []byte) (string, error)
	// FileTypes lists the lowercase extensions this parser serves.
	FileTypes() []string
}

// Registry dispatches by file extension.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range parsers {
		for _, t := range p.FileTypes() {
			r.parsers[strings.ToLower(t)] = p
		}
	}
	return r
}

// Parse extracts text from data using the parser registered for fileType.
func (r *Registry) Parse(ctx context.Context, fileType, filename string, data []byte) (string, error) {
	p, ok := r.parsers[strings.ToLower(fileType)]
	if !ok {
		return "", NewProcessError(filename, fmt.Errorf("unsupported file type %q", fileType))
	}

	text, err := p.Parse(ctx, filename, data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", NewProcessError(filename, fmt.Errorf("document produced no text"))
	}
	return text, nil
}

// Supports reports whether fileType has a registered parser.
func (r *Registry) Supports(fileType string) bool {
	_, ok := r.parsers[strings.ToLower(fileType)]
	return ok
}
