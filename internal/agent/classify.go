package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pulsecheck/internal/domain"
)

// Classification is the engine's output for one turn.
type Classification struct {
	Result     domain.ClassificationResult
	Answers    []domain.UserAnswer
	Prompt     Prompt
	Invocation Invocation
}

// Engine runs the extraction call and resolves which preferences the
// result may carry.
type Engine struct {
	invoker *Invoker
	logger  *zap.Logger
}

func NewEngine(invoker *Invoker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{invoker: invoker, logger: logger}
}

// Classify validates the input, calls the model once through the invoker,
// and returns items with preferences limited to what the caller supplied or
// answered.
func (e *Engine) Classify(ctx context.Context, in domain.ClassificationInput) (Classification, error) {
	if err := in.Validate(); err != nil {
		return Classification{}, err
	}
	answers := e.knownAnswers(in.Answers)
	in.Answers = answers

	if in.Previous != nil {
		in.Preferences = mergePreferences(in.Preferences, in.Previous.Preferences)
	}
	var prompt Prompt
	if in.Previous != nil && len(answers) > 0 {
		prompt = BuildFollowupResolutionPrompt(*in.Previous, answers, in.Notes)
	} else {
		prompt = BuildClassificationPrompt(in)
	}

	result, meta, err := InvokeStructured(ctx, e.invoker, prompt, ClassificationSchema)
	if err != nil {
		e.logger.Error("agent classification failed",
			zap.Int("attempts", meta.Attempts),
			zap.Error(err),
		)
		return Classification{Prompt: prompt, Invocation: meta}, fmt.Errorf("classify notes: %w", err)
	}

	result.Preferences = resolvePreferences(in.Preferences, answers, result.Preferences)
	e.logger.Info("agent classification complete",
		zap.String("provider", meta.Provider),
		zap.String("model", meta.Model),
		zap.Int("attempts", meta.Attempts),
		zap.Int("items", len(result.Items)),
		zap.Int("proposed_questions", len(result.FollowUpQuestions)),
	)
	return Classification{Result: result, Answers: answers, Prompt: prompt, Invocation: meta}, nil
}

// knownAnswers drops answers whose field is not one the policy can ask about.
func (e *Engine) knownAnswers(answers []domain.UserAnswer) []domain.UserAnswer {
	known := make([]domain.UserAnswer, 0, len(answers))
	for _, a := range answers {
		field, ok := domain.ParseField(string(a.Field))
		if !ok {
			e.logger.Warn("agent ignoring answer for unknown field", zap.String("field", string(a.Field)))
			continue
		}
		a.Field = field
		a.Answer = strings.TrimSpace(a.Answer)
		a.ItemText = strings.TrimSpace(a.ItemText)
		known = append(known, a)
	}
	return known
}

// mergePreferences fills empty fields of known from fallback.
func mergePreferences(known, fallback domain.AgentPreferences) domain.AgentPreferences {
	if known.POV == "" {
		known.POV = fallback.POV
	}
	if known.Format == "" {
		known.Format = fallback.Format
	}
	if known.Tone == "" {
		known.Tone = fallback.Tone
	}
	if strings.TrimSpace(known.AttributionName) == "" {
		known.AttributionName = fallback.AttributionName
	}
	return known.Normalized()
}

// resolvePreferences applies precedence known > answered > model. The
// model's value only counts for a field that was answered this round;
// anything else it proposes is dropped.
func resolvePreferences(known domain.AgentPreferences, answers []domain.UserAnswer, model domain.AgentPreferences) domain.AgentPreferences {
	out := known.Normalized()
	answered := answerMap(answers)

	if a, ok := answered[domain.FieldPOV]; ok && out.POV == "" {
		if v, ok := domain.ParsePOV(a); ok {
			out.POV = v
		} else {
			out.POV = model.POV
		}
	}
	if a, ok := answered[domain.FieldFormat]; ok && out.Format == "" {
		if v, ok := domain.ParseFormat(a); ok {
			out.Format = v
		} else {
			out.Format = model.Format
		}
	}
	if a, ok := answered[domain.FieldTone]; ok && out.Tone == "" {
		if v, ok := domain.ParseTone(a); ok {
			out.Tone = v
		} else {
			out.Tone = model.Tone
		}
	}
	if a, ok := answered[domain.FieldAttributionName]; ok && out.AttributionName == "" {
		if a != "" {
			out.AttributionName = a
		} else {
			out.AttributionName = model.AttributionName
		}
	}
	return out.Normalized()
}

// answerMap keeps the last non-clarification answer per field.
func answerMap(answers []domain.UserAnswer) map[domain.Field]string {
	m := make(map[domain.Field]string, len(answers))
	for _, a := range answers {
		if a.Field == domain.FieldClarification {
			continue
		}
		m[a.Field] = strings.TrimSpace(a.Answer)
	}
	return m
}
