package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBackend wraps every failure reported by an inference backend.
var ErrBackend = errors.New("inference backend error")

// Request is one completion call.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Result is the raw backend output before cleanup.
type Result struct {
	Text   string
	Tokens int
}

// Backend produces completions for a flat prompt.
type Backend interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Counter counts tokens the way the backend's tokenizer would.
type Counter interface {
	CountTokens(text string) int
}

// StatusError is a non-2xx response. It satisfies retrylimit.HTTPError.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: http %d: %s", ErrBackend, e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) Unwrap() error { return ErrBackend }

// Options configure an HTTP backend.
type Options struct {
	Kind    string // llamacpp or openai
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration // per request; zero keeps the client default
}

// New builds the backend named by opts.Kind.
func New(opts Options) (Backend, Counter, error) {
	switch strings.ToLower(opts.Kind) {
	case "llamacpp", "":
		c := NewLlamaCpp(opts.BaseURL)
		if opts.Timeout > 0 {
			c.client.Timeout = opts.Timeout
		}
		return c, c, nil
	case "openai":
		c := NewOpenAICompat(opts.BaseURL, opts.Model, opts.APIKey)
		if opts.Timeout > 0 {
			c.client.Timeout = opts.Timeout
		}
		return c, Estimator{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported inference backend %q", opts.Kind)
	}
}
