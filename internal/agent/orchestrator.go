package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pulsecheck/internal/domain"
	"pulsecheck/internal/integrations/llm"
)

type Options struct {
	// AlwaysGenerateFollowups forces the follow-up generation call for
	// preference gaps even when the classification proposed questions.
	AlwaysGenerateFollowups bool
	Logger                  *zap.Logger
	Metrics                 *Metrics
}

// Turn is the audit trail of one Run.
type Turn struct {
	Provider           string    `json:"provider"`
	Model              string    `json:"model"`
	Usage              llm.Usage `json:"usage"`
	Attempts           int       `json:"attempts"`
	Prompt             Prompt    `json:"prompt"`
	Raw                string    `json:"raw"`
	FollowupsGenerated bool      `json:"followupsGenerated"`
}

type Outcome struct {
	Items       []domain.ClassifiedItem   `json:"items"`
	Preferences domain.AgentPreferences   `json:"preferences"`
	Questions   []domain.FollowUpQuestion `json:"questions"`
	Turn        Turn                      `json:"-"`
}

// Done reports whether no questions remain.
func (o Outcome) Done() bool {
	return len(o.Questions) == 0
}

// Result packs the outcome as the previous-turn value for a follow-up round.
func (o Outcome) Result() domain.ClassificationResult {
	return domain.ClassificationResult{
		Items:             o.Items,
		Preferences:       o.Preferences,
		FollowUpQuestions: o.Questions,
	}
}

// Orchestrator runs one classification turn: extraction, then the
// clarification policy. It keeps no session state between calls.
type Orchestrator struct {
	engine  *Engine
	policy  *Policy
	logger  *zap.Logger
	metrics *Metrics
}

func NewOrchestrator(gen llm.Generator, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	invoker := NewInvoker(gen, logger, opts.Metrics)
	return &Orchestrator{
		engine:  NewEngine(invoker, logger),
		policy:  NewPolicy(invoker, opts.AlwaysGenerateFollowups, logger),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

func (o *Orchestrator) Run(ctx context.Context, in domain.ClassificationInput) (Outcome, error) {
	started := time.Now()

	c, err := o.engine.Classify(ctx, in)
	if err != nil {
		outcome := "unavailable"
		if errors.Is(err, ErrInvalidInput) {
			outcome = "invalid"
		}
		o.metrics.recordTurn(outcome, started)
		return Outcome{}, err
	}

	decision := o.policy.Decide(ctx, in, c)

	turn := Turn{
		Provider: c.Invocation.Provider,
		Model:    c.Invocation.Model,
		Usage:    c.Invocation.Usage,
		Attempts: c.Invocation.Attempts,
		Prompt:   c.Prompt,
		Raw:      c.Invocation.Raw,
	}
	if decision.Generation != nil {
		turn.FollowupsGenerated = true
		turn.Usage.Add(decision.Generation.Usage)
		turn.Attempts += decision.Generation.Attempts
	}

	items := c.Result.Items
	if items == nil {
		items = []domain.ClassifiedItem{}
	}
	questions := decision.Questions
	if questions == nil {
		questions = []domain.FollowUpQuestion{}
	}
	out := Outcome{
		Items:       items,
		Preferences: c.Result.Preferences,
		Questions:   questions,
		Turn:        turn,
	}

	fields := make([]string, 0, len(questions))
	for _, q := range questions {
		fields = append(fields, string(q.Field))
	}
	o.metrics.recordQuestions(fields)
	o.metrics.recordTokens(turn.Usage.InputTokens, turn.Usage.OutputTokens)
	if out.Done() {
		o.metrics.recordTurn("final", started)
	} else {
		o.metrics.recordTurn("questions", started)
	}

	o.logger.Info("agent turn complete",
		zap.Int("items", len(items)),
		zap.Int("questions", len(questions)),
		zap.Strings("question_fields", fields),
		zap.Int64("tokens", turn.Usage.TotalTokens()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}
