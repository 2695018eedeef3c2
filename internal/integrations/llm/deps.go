package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultMaxTokens      = 4096
	defaultTemperature    = 0.2
)

// Generator is the one outbound text-generation call. Implementations
// make exactly one provider request per Generate and never retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Schema is the JSON Schema the response must satisfy. Providers with
// native structured output receive it directly; others get it in the
// system prompt.
type Schema struct {
	Name     string
	Document json.RawMessage
}

type Request struct {
	System string
	User   string
	Schema Schema
}

type Response struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
}

type Usage struct {
	InputTokens              int64 `json:"inputTokens"`
	OutputTokens             int64 `json:"outputTokens"`
	CacheCreationInputTokens int64 `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cacheReadInputTokens,omitempty"`
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature *float64 // nil selects the default; 0 is a valid setting
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderAnthropic
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature == nil {
		t := defaultTemperature
		c.Temperature = &t
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func DefaultModel(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderOpenAI:
		return defaultOpenAIModel
	case ProviderGemini:
		return defaultGeminiModel
	default:
		return defaultAnthropicModel
	}
}

// schemaInstruction appends the response schema to a system prompt for
// providers that only accept it as text.
func schemaInstruction(system string, schema Schema) string {
	if len(schema.Document) == 0 {
		return system
	}
	return system + "\n\nThe response MUST be a single JSON object valid against this JSON Schema (" +
		schema.Name + "):\n" + string(schema.Document)
}
