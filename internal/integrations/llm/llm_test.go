package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var testSchema = Schema{
	Name:     "classification",
	Document: json.RawMessage(`{"type":"object","required":["items"]}`),
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "  \n```json{\"a\":1}```  ", want: `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripCodeFences(tt.in); got != tt.want {
			t.Fatalf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSchemaInstruction(t *testing.T) {
	if got := schemaInstruction("sys", Schema{}); got != "sys" {
		t.Fatalf("expected system prompt unchanged without schema, got %q", got)
	}
	got := schemaInstruction("sys", testSchema)
	if !strings.HasPrefix(got, "sys\n\n") {
		t.Fatalf("expected original system prompt first, got %q", got)
	}
	if !strings.Contains(got, `"required":["items"]`) || !strings.Contains(got, "classification") {
		t.Fatalf("expected schema document and name in instruction, got %q", got)
	}
}

func TestDefaultModel(t *testing.T) {
	tests := map[string]string{
		"":          defaultAnthropicModel,
		"anthropic": defaultAnthropicModel,
		"OpenAI":    defaultOpenAIModel,
		"gemini":    defaultGeminiModel,
	}
	for provider, want := range tests {
		if got := DefaultModel(provider); got != want {
			t.Fatalf("DefaultModel(%q) = %q, want %q", provider, got, want)
		}
	}
}

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 10, OutputTokens: 5}
	total.Add(Usage{InputTokens: 3, OutputTokens: 2, CacheReadInputTokens: 7})
	if total.InputTokens != 13 || total.OutputTokens != 7 || total.CacheReadInputTokens != 7 {
		t.Fatalf("unexpected usage after Add: %+v", total)
	}
	if total.TotalTokens() != 20 {
		t.Fatalf("TotalTokens() = %d, want 20", total.TotalTokens())
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "mystery", APIKey: "k"})
	if err == nil || !strings.Contains(err.Error(), "unknown LLM provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	for _, provider := range []string{ProviderAnthropic, ProviderOpenAI} {
		if _, err := New(context.Background(), Config{Provider: provider}); err == nil {
			t.Fatalf("expected missing api key error for %s", provider)
		}
	}
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(context.Background(), Config{Provider: "", APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := gen.(*AnthropicGenerator); !ok {
		t.Fatalf("expected anthropic generator for empty provider, got %T", gen)
	}
	gen, err = New(context.Background(), Config{Provider: "openai", APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := gen.(*OpenAIGenerator); !ok {
		t.Fatalf("expected openai generator, got %T", gen)
	}
}

func TestOpenAIGenerator_SendsSchemaAndReadsUsage(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  {\"items\":[]}  "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`))
	}))
	defer server.Close()

	gen, err := NewOpenAIGenerator(Config{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	resp, err := gen.Generate(context.Background(), Request{System: "sys", User: "notes", Schema: testSchema})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"items":[]}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Provider != ProviderOpenAI || resp.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected provider/model %s/%s", resp.Provider, resp.Model)
	}
	if resp.Usage.InputTokens != 42 || resp.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	format, ok := captured["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("expected response_format in request, got %v", captured)
	}
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", format["type"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
}

func TestWithDefaults_Temperature(t *testing.T) {
	cfg := Config{Provider: ProviderOpenAI}.withDefaults()
	if cfg.Temperature == nil || *cfg.Temperature != defaultTemperature {
		t.Fatalf("expected default temperature %v, got %v", defaultTemperature, cfg.Temperature)
	}

	zero := 0.0
	cfg = Config{Provider: ProviderOpenAI, Temperature: &zero}.withDefaults()
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatalf("expected explicit zero temperature to survive defaults, got %v", cfg.Temperature)
	}
}

func TestOpenAIGenerator_SendsZeroTemperature(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{}"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	zero := 0.0
	gen, err := NewOpenAIGenerator(Config{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini", Temperature: &zero})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), Request{System: "sys", User: "notes", Schema: testSchema}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	temperature, ok := captured["temperature"].(float64)
	if !ok {
		t.Fatalf("expected temperature in request, got %v", captured)
	}
	if temperature >= 1e-6 {
		t.Fatalf("expected effectively zero temperature, got %v", temperature)
	}
}

func TestOpenAIGenerator_PropagatesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	gen, err := NewOpenAIGenerator(Config{APIKey: "test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), Request{System: "s", User: "u"}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestAnthropicGenerator_ReturnsFirstTextBlock(t *testing.T) {
	var calls int32
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"items\":[]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 11, "output_tokens": 3, "cache_read_input_tokens": 5}
		}`))
	}))
	defer server.Close()

	gen, err := NewAnthropicGenerator(Config{APIKey: "test", BaseURL: server.URL, Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewAnthropicGenerator: %v", err)
	}
	resp, err := gen.Generate(context.Background(), Request{System: "sys", User: "notes", Schema: testSchema})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"items":[]}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage.InputTokens != 11 || resp.Usage.OutputTokens != 3 || resp.Usage.CacheReadInputTokens != 5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if captured["temperature"] != defaultTemperature {
		t.Fatalf("expected default temperature %v, got %v", defaultTemperature, captured["temperature"])
	}
	system, _ := json.Marshal(captured["system"])
	if !strings.Contains(string(system), "JSON Schema") {
		t.Fatalf("expected schema instruction in system prompt, got %s", system)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one request, got %d", calls)
	}
}

func TestAnthropicGenerator_SendsZeroTemperature(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	zero := 0.0
	gen, err := NewAnthropicGenerator(Config{APIKey: "test", BaseURL: server.URL, Model: "claude-test", Temperature: &zero})
	if err != nil {
		t.Fatalf("NewAnthropicGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), Request{System: "sys", User: "notes", Schema: testSchema}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	temperature, ok := captured["temperature"]
	if !ok || temperature != 0.0 {
		t.Fatalf("expected temperature 0 in request, got %v (present=%v)", temperature, ok)
	}
}

func TestAnthropicGenerator_DoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer server.Close()

	gen, err := NewAnthropicGenerator(Config{APIKey: "test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), Request{System: "s", User: "u"}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one provider call, got %d", got)
	}
}

type countingGenerator struct {
	calls int32
	err   error
}

func (g *countingGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	atomic.AddInt32(&g.calls, 1)
	return Response{Text: req.User}, g.err
}

func TestRateLimited_DisabledReturnsSameGenerator(t *testing.T) {
	inner := &countingGenerator{}
	if got := RateLimited(inner, 0, 1); got != Generator(inner) {
		t.Fatalf("expected unwrapped generator when rate is disabled, got %T", got)
	}
}

func TestRateLimited_PassesThrough(t *testing.T) {
	inner := &countingGenerator{}
	gen := RateLimited(inner, 1000, 5)
	for i := 0; i < 3; i++ {
		resp, err := gen.Generate(context.Background(), Request{User: "hello"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if resp.Text != "hello" {
			t.Fatalf("unexpected response %q", resp.Text)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 inner calls, got %d", inner.calls)
	}
}

func TestRateLimited_HonorsContextWhileWaiting(t *testing.T) {
	inner := &countingGenerator{}
	gen := RateLimited(inner, 0.001, 1)
	if _, err := gen.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gen.Generate(ctx, Request{})
	if err == nil {
		t.Fatal("expected wait to fail once the burst is spent")
	}
	if inner.calls != 1 {
		t.Fatalf("expected the limited call to never reach the provider, got %d calls", inner.calls)
	}
}

func TestRateLimited_PropagatesInnerError(t *testing.T) {
	sentinel := errors.New("provider down")
	gen := RateLimited(&countingGenerator{err: sentinel}, 100, 1)
	if _, err := gen.Generate(context.Background(), Request{}); !errors.Is(err, sentinel) {
		t.Fatalf("expected inner error, got %v", err)
	}
}
