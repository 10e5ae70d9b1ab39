package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLlamaCppGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["prompt"] != "hello" || body["temperature"].(float64) != 0.5 {
			t.Errorf("unexpected payload %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": " hi there", "tokens_predicted": 3})
	}))
	defer srv.Close()

	c := NewLlamaCpp(srv.URL + "/")
	res, err := c.Generate(context.Background(), Request{Prompt: "hello", Temperature: 0.5, MaxTokens: 16})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != " hi there" || res.Tokens != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLlamaCppStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading model", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewLlamaCpp(srv.URL).Generate(context.Background(), Request{Prompt: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("status error should wrap ErrBackend")
	}
}

func TestLlamaCppCountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tokens": []int{1, 2, 3, 4, 5}})
	}))
	c := NewLlamaCpp(srv.URL)
	if n := c.CountTokens("anything"); n != 5 {
		t.Fatalf("CountTokens = %d, want 5", n)
	}
	srv.Close()
	if n := c.CountTokens("abcdefgh"); n != 2 {
		t.Fatalf("fallback CountTokens = %d, want 2", n)
	}
}

func TestOpenAICompatGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" || r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"text":"sure"}],"usage":{"completion_tokens":1}}`))
	}))
	defer srv.Close()

	b, _, err := New(Options{Kind: "openai", BaseURL: srv.URL, Model: "m", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil || res.Text != "sure" || res.Tokens != 1 {
		t.Fatalf("Generate = %+v, %v", res, err)
	}
	if _, _, err := New(Options{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCleanReply(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  hello @Nioreux how are you  ", "hello how are you"},
		{"<Sable> sure thing\n### user: <Bob> more", "sure thing"},
		{"<think>hmm</think>\"quoted answer\"", "quoted answer"},
		{"line one\nline two", "line one\nline two"},
		{"fine ### instruction: leak", "fine"},
		{"wrap it in <html> tags", "wrap it in <html> tags"},
		{"so x<y2 holds", "so x<y2 holds"},
		{"mail bob@example.com", "mail bob@example.com"},
		{"@Bob you first", "you first"},
	}
	for _, c := range cases {
		if got := CleanReply(c.in, "### user:", "### instruction:"); got != c.want {
			t.Errorf("CleanReply(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEstimator(t *testing.T) {
	e := Estimator{}
	if e.CountTokens("") != 0 || e.CountTokens("a") != 1 || e.CountTokens("abcde") != 2 {
		t.Fatal("unexpected estimates")
	}
}

func TestNewBackend(t *testing.T) {
	b, c, err := New(Options{Kind: "openai", BaseURL: "http://x/", Timeout: 3 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	o, ok := b.(*OpenAICompat)
	if !ok || o.client.Timeout != 3*time.Second || o.baseURL != "http://x" {
		t.Fatalf("backend = %#v", b)
	}
	if _, ok := c.(Estimator); !ok {
		t.Fatalf("counter = %T", c)
	}

	b, c, err = New(Options{Kind: "LlamaCpp", BaseURL: "http://y"})
	if err != nil {
		t.Fatal(err)
	}
	if l, ok := b.(*LlamaCpp); !ok || c != Counter(l) || l.client.Timeout != 120*time.Second {
		t.Fatalf("backend = %#v", b)
	}

	if _, _, err := New(Options{Kind: "gpt"}); err == nil {
		t.Fatal("unknown backend accepted")
	}
}
