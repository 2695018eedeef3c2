package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIGenerator talks to the chat completions API or any compatible
// endpoint configured through BaseURL.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	temperature := float32(*cfg.Temperature)
	if temperature == 0 {
		// go-openai omits a zero temperature, which the API reads as 1.
		temperature = math.SmallestNonzeroFloat32
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: temperature,
		logger:      cfg.Logger,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}
	if len(req.Schema.Document) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Document,
			},
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		g.logger.Warn("llm openai error", zap.String("model", g.model), zap.Error(err))
		return Response{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("no choices in OpenAI response")
	}

	usage := Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Debug("llm openai response",
		zap.String("model", g.model),
		zap.Int("size", len(text)),
		zap.Int64("tokens_in", usage.InputTokens),
		zap.Int64("tokens_out", usage.OutputTokens),
	)
	return Response{Text: text, Provider: ProviderOpenAI, Model: g.model, Usage: usage}, nil
}
