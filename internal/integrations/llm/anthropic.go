package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	logger      *zap.Logger
}

func NewAnthropicGenerator(cfg Config) (*AnthropicGenerator, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	// The structured invoker owns retries.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: *cfg.Temperature,
		logger:      cfg.Logger,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		System: []anthropic.TextBlockParam{
			{Text: schemaInstruction(req.System, req.Schema), CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		g.logger.Warn("llm anthropic error", zap.String("model", g.model), zap.Error(err))
		return Response{}, fmt.Errorf("anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			g.logger.Debug("llm anthropic response",
				zap.String("model", g.model),
				zap.Int("size", len(block.Text)),
				zap.Int64("tokens_in", usage.InputTokens),
				zap.Int64("tokens_out", usage.OutputTokens),
				zap.Int64("cache_read", usage.CacheReadInputTokens),
			)
			return Response{Text: block.Text, Provider: ProviderAnthropic, Model: g.model, Usage: usage}, nil
		}
	}
	return Response{Provider: ProviderAnthropic, Model: g.model, Usage: usage}, errors.New("no text content in anthropic response")
}
