package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type payload struct {
	Key string `json:"key"`
	Num int    `json:"num"`
}

func TestParseJSONResponsePlain(t *testing.T) {
	var p payload
	if err := ParseJSONResponse(`{"key": "value", "num": 42}`, &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key != "value" {
		t.Errorf("expected key='value', got %v", p.Key)
	}
	if p.Num != 42 {
		t.Errorf("expected num=42, got %v", p.Num)
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("```json\n{\"key\": \"value\"}\n```", &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key != "value" {
		t.Errorf("expected key='value', got %v", p.Key)
	}
}

func TestParseJSONResponseWithPlainFence(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("```\n{\"key\": \"value\"}\n```", &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key != "value" {
		t.Errorf("expected key='value', got %v", p.Key)
	}
}

func TestParseJSONResponseUnclosedFence(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("```json\n{\"key\": \"value\"}", &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key != "value" {
		t.Errorf("expected key='value', got %v", p.Key)
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("not json at all", &p); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("", &p); err == nil {
		t.Error("expected error for empty string")
	}
	if err := ParseJSONResponse("```", &p); err == nil {
		t.Error("expected error for a bare fence")
	}
}

func TestParseJSONResponseWhitespace(t *testing.T) {
	var p payload
	if err := ParseJSONResponse("  \n  {\"key\": \"value\"}  \n  ", &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key != "value" {
		t.Errorf("expected key='value', got %v", p.Key)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["max_tokens"] != float64(256) {
			t.Errorf("expected max_tokens 256, got %v", body["max_tokens"])
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-4o-mini", APIKey: "test-key", BaseURL: srv.URL, client: srv.Client()}
	out, err := p.Generate(context.Background(), "hi", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAIGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "m", APIKey: "k", BaseURL: srv.URL, client: srv.Client()}
	if _, err := p.Generate(context.Background(), "hi", 10); err == nil {
		t.Error("expected error for 429")
	}
}

func TestOpenAINotConfigured(t *testing.T) {
	p := NewOpenAIProvider("m", "REGWATCH_TEST_UNSET_KEY")
	if p.IsConfigured() {
		t.Fatal("expected provider without key to be unconfigured")
	}
	_, err := p.Generate(context.Background(), "hi", 10)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
		case "/api/chat":
			w.Write([]byte(`{"message":{"content":"{\"applicable\":true}"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	if !p.IsConfigured() {
		t.Fatal("expected ollama to be configured")
	}
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"applicable":true}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCreateProviderNoneAvailable(t *testing.T) {
	p := CreateProvider(context.Background(), Options{
		Provider:        "gemini",
		GeminiAPIKeyEnv: "REGWATCH_TEST_UNSET_KEY",
		OpenAIAPIKeyEnv: "REGWATCH_TEST_UNSET_KEY",
	}, zap.NewNop())
	if p != nil {
		t.Errorf("expected nil provider, got %T", p)
	}
}

func TestCreateProviderFallsBackToOpenAI(t *testing.T) {
	t.Setenv("REGWATCH_TEST_OPENAI_KEY", "sk-test")
	p := CreateProvider(context.Background(), Options{
		Provider:        "gemini",
		GeminiAPIKeyEnv: "REGWATCH_TEST_UNSET_KEY",
		OpenAIModel:     "gpt-4o-mini",
		OpenAIAPIKeyEnv: "REGWATCH_TEST_OPENAI_KEY",
	}, zap.NewNop())
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Errorf("expected OpenAI fallback, got %T", p)
	}
}
