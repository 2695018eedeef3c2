package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// New builds the generator for cfg.Provider. An empty provider selects
// anthropic.
func New(ctx context.Context, cfg Config) (Generator, error) {
	cfg = cfg.withDefaults()
	cfg.Logger.Info("llm generator configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Bool("custom_base_url", cfg.BaseURL != ""),
	)
	switch cfg.Provider {
	case ProviderAnthropic, "claude":
		return NewAnthropicGenerator(cfg)
	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg)
	case ProviderGemini, "google":
		return NewGeminiGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: anthropic, openai, gemini)", cfg.Provider)
	}
}

// RateLimited spaces outbound calls to at most perSecond requests with the
// given burst. A non-positive rate returns next unchanged.
func RateLimited(next Generator, perSecond float64, burst int) Generator {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

type rateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

func (r *rateLimited) Generate(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("llm rate limit wait: %w", err)
	}
	return r.next.Generate(ctx, req)
}
