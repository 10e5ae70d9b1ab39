package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LlamaCpp talks to a llama.cpp server's native completion API.
type LlamaCpp struct {
	baseURL   string
	client    *http.Client
	fallback  Estimator
	tokenizeT time.Duration
}

func NewLlamaCpp(baseURL string) *LlamaCpp {
	return &LlamaCpp{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 120 * time.Second},
		tokenizeT: 5 * time.Second,
	}
}

func (l *LlamaCpp) Generate(ctx context.Context, r Request) (Result, error) {
	payload := map[string]interface{}{
		"prompt":       r.Prompt,
		"temperature":  r.Temperature,
		"n_predict":    r.MaxTokens,
		"stop":         r.Stop,
		"cache_prompt": true,
	}

	var parsed struct {
		Content         string `json:"content"`
		TokensPredicted int    `json:"tokens_predicted"`
	}
	if err := l.post(ctx, "/completion", payload, &parsed); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return Result{}, fmt.Errorf("%w: llama.cpp returned empty content", ErrBackend)
	}
	return Result{Text: parsed.Content, Tokens: parsed.TokensPredicted}, nil
}

// CountTokens asks the server's tokenizer and falls back to the estimate
// when the server is unreachable.
func (l *LlamaCpp) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.tokenizeT)
	defer cancel()

	var parsed struct {
		Tokens []int `json:"tokens"`
	}
	if err := l.post(ctx, "/tokenize", map[string]interface{}{"content": text}, &parsed); err != nil {
		return l.fallback.CountTokens(text)
	}
	return len(parsed.Tokens)
}

func (l *LlamaCpp) post(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: unmarshal: %v body=%s", ErrBackend, err, truncate(body))
	}
	return nil
}
