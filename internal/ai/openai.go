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

// OpenAICompat calls any server exposing the OpenAI /v1/completions API
// (vLLM, llama.cpp's compatibility layer, Ollama).
type OpenAICompat struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewOpenAICompat(baseURL, model, apiKey string) *OpenAICompat {
	return &OpenAICompat{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAICompat) Generate(ctx context.Context, r Request) (Result, error) {
	payload := map[string]interface{}{
		"model":       p.model,
		"prompt":      r.Prompt,
		"temperature": r.Temperature,
		"max_tokens":  r.MaxTokens,
		"stop":        r.Stop,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: truncate(respBody)}
	}

	var parsed struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: unmarshal: %v body=%s", ErrBackend, err, truncate(respBody))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Text) == "" {
		return Result{}, fmt.Errorf("%w: empty choices", ErrBackend)
	}
	return Result{Text: parsed.Choices[0].Text, Tokens: parsed.Usage.CompletionTokens}, nil
}
