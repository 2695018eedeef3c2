package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"pulsecheck/internal/integrations/llm"
)

const (
	MaxAttempts = 3
	BaseDelay   = 350 * time.Millisecond
)

// Prompt is a rendered system/user message pair.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Schema declares the shape T a structured call must produce. Parse both
// decodes and validates; any error it returns is a schema violation.
type Schema[T any] struct {
	Name     string
	Document json.RawMessage
	Parse    func(raw []byte) (T, error)
}

// Invocation describes what a structured call cost and returned.
type Invocation struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Usage    llm.Usage `json:"usage"`
	Attempts int       `json:"attempts"`
	Raw      string    `json:"raw"`
}

// Invoker makes schema-checked calls against a generator with bounded
// exponential backoff. It holds no per-call state and is safe for
// concurrent use.
type Invoker struct {
	gen         llm.Generator
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
	metrics     *Metrics
}

func NewInvoker(gen llm.Generator, logger *zap.Logger, metrics *Metrics) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		gen:         gen,
		maxAttempts: MaxAttempts,
		baseDelay:   BaseDelay,
		sleep:       sleepContext,
		logger:      logger,
		metrics:     metrics,
	}
}

// InvokeStructured returns a value that passed schema.Parse, or an
// *UnavailableError carrying the last cause once every attempt failed.
func InvokeStructured[T any](ctx context.Context, inv *Invoker, prompt Prompt, schema Schema[T]) (T, Invocation, error) {
	var zero T
	var meta Invocation
	var lastErr error

	req := llm.Request{
		System: prompt.System,
		User:   prompt.User,
		Schema: llm.Schema{Name: schema.Name, Document: schema.Document},
	}

	for attempt := 0; attempt < inv.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		meta.Attempts = attempt + 1

		resp, err := inv.gen.Generate(ctx, req)
		meta.Usage.Add(resp.Usage)
		if resp.Provider != "" {
			meta.Provider = resp.Provider
			meta.Model = resp.Model
		}

		if err != nil {
			lastErr = &TransportError{Err: err}
			inv.metrics.recordAttempt(schema.Name, "transport_error")
		} else {
			meta.Raw = resp.Text
			value, perr := schema.Parse([]byte(llm.StripCodeFences(resp.Text)))
			if perr == nil {
				inv.metrics.recordAttempt(schema.Name, "ok")
				return value, meta, nil
			}
			lastErr = &SchemaError{Schema: schema.Name, Err: perr}
			inv.metrics.recordAttempt(schema.Name, "schema_error")
		}

		inv.logger.Warn("agent model attempt failed",
			zap.String("schema", schema.Name),
			zap.Int("attempt", meta.Attempts),
			zap.Int("max_attempts", inv.maxAttempts),
			zap.Error(lastErr),
		)

		if attempt == inv.maxAttempts-1 {
			break
		}
		delay := inv.baseDelay * time.Duration(1<<attempt)
		if err := inv.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	return zero, meta, &UnavailableError{Attempts: meta.Attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
