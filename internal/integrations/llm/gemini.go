package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	genai "google.golang.org/genai"
)

// GeminiGenerator asks for application/json output; the schema travels in
// the system instruction.
type GeminiGenerator struct {
	cli         *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg Config) (*GeminiGenerator, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{
		cli:         cli,
		model:       cfg.Model,
		temperature: float32(*cfg.Temperature),
		logger:      cfg.Logger,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	temperature := g.temperature
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.User}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: schemaInstruction(req.System, req.Schema)}}},
			ResponseMIMEType:  "application/json",
			Temperature:       &temperature,
		},
	)
	if err != nil {
		g.logger.Warn("llm gemini error", zap.String("model", g.model), zap.Error(err))
		return Response{}, fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Response{}, errors.New("no candidates in gemini response")
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	g.logger.Debug("llm gemini response",
		zap.String("model", g.model),
		zap.Int("size", len(text)),
		zap.Int64("tokens_in", usage.InputTokens),
		zap.Int64("tokens_out", usage.OutputTokens),
	)
	return Response{Text: text, Provider: ProviderGemini, Model: g.model, Usage: usage}, nil
}
