package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"pulsecheck/internal/domain"
)

// MaxClarificationQuestions caps low-confidence questions per turn.
const MaxClarificationQuestions = 3

var defaultQuestions = map[domain.Field]string{
	domain.FieldPOV:             "Which point of view should the report use? (first / third_limited / third_omniscient)",
	domain.FieldFormat:          "Bullets or paragraph?",
	domain.FieldTone:            "Which tone do you want? (team_chill / executive / escalation)",
	domain.FieldAttributionName: "What name or label should third-person phrasing use? (e.g. \"Natalie\", \"Payments Squad\")",
}

// QuestionPlan is the model-free part of the clarification decision.
type QuestionPlan struct {
	Clarifications []domain.FollowUpQuestion
	// Gaps are missing pov/format/tone fields to ask about, in that order.
	Gaps []domain.Field
	// Proposed holds model-suggested questions for gap fields.
	Proposed map[domain.Field]domain.FollowUpQuestion
	// AskAttribution is set when a third-person pov still has no name.
	AskAttribution bool
}

// Uncovered lists gap fields with no model-proposed question.
func (p QuestionPlan) Uncovered() []domain.Field {
	var out []domain.Field
	for _, f := range p.Gaps {
		if _, ok := p.Proposed[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Questions assembles the final ordered list: clarifications, then
// pov/format/tone, then attributionName. generated overrides proposals;
// fields covered by neither fall back to built-in wording.
func (p QuestionPlan) Questions(generated map[domain.Field]domain.FollowUpQuestion) []domain.FollowUpQuestion {
	out := make([]domain.FollowUpQuestion, 0, len(p.Clarifications)+len(p.Gaps)+1)
	out = append(out, p.Clarifications...)

	fields := append([]domain.Field(nil), p.Gaps...)
	if p.AskAttribution {
		fields = append(fields, domain.FieldAttributionName)
	}
	for _, f := range fields {
		if q, ok := generated[f]; ok {
			out = append(out, q)
			continue
		}
		if q, ok := p.Proposed[f]; ok {
			out = append(out, q)
			continue
		}
		out = append(out, domain.FollowUpQuestion{Field: f, Question: defaultQuestions[f]})
	}
	return out
}

// PlanQuestions decides which questions a turn needs without calling a
// model. answers must already be limited to known fields.
func PlanQuestions(result domain.ClassificationResult, answers []domain.UserAnswer) QuestionPlan {
	plan := QuestionPlan{
		Clarifications: ClarificationQuestions(result.Items, answers),
		Proposed:       map[domain.Field]domain.FollowUpQuestion{},
	}
	prefs := result.Preferences.Normalized()

	if len(answers) == 0 {
		plan.Gaps = prefs.Missing()
	}

	answered := answerMap(answers)
	if name, ok := answered[domain.FieldAttributionName]; prefs.NeedsAttribution() && (!ok || name == "") {
		plan.AskAttribution = true
	}

	for _, q := range result.FollowUpQuestions {
		if !wantsField(plan, q.Field) {
			continue
		}
		if _, dup := plan.Proposed[q.Field]; !dup {
			plan.Proposed[q.Field] = domain.FollowUpQuestion{Field: q.Field, Question: q.Question}
		}
	}
	return plan
}

func wantsField(plan QuestionPlan, f domain.Field) bool {
	if f == domain.FieldAttributionName {
		return plan.AskAttribution
	}
	for _, g := range plan.Gaps {
		if g == f {
			return true
		}
	}
	return false
}

// SelectLowConfidence returns up to MaxClarificationQuestions items below
// the threshold, least certain first. Ties keep input order.
func SelectLowConfidence(items []domain.ClassifiedItem) []domain.ClassifiedItem {
	var low []domain.ClassifiedItem
	for _, item := range items {
		if item.IsLowConfidence() {
			low = append(low, item)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		return low[i].Confidence < low[j].Confidence
	})
	if len(low) > MaxClarificationQuestions {
		low = low[:MaxClarificationQuestions]
	}
	return low
}

// ClarificationQuestions turns uncertain items into questions, skipping
// items the user already clarified.
func ClarificationQuestions(items []domain.ClassifiedItem, answers []domain.UserAnswer) []domain.FollowUpQuestion {
	clarified := map[string]bool{}
	for _, a := range answers {
		if a.Field == domain.FieldClarification && a.ItemText != "" {
			clarified[normalizeItemText(a.ItemText)] = true
		}
	}

	var pending []domain.ClassifiedItem
	for _, item := range items {
		if !clarified[normalizeItemText(item.Text)] {
			pending = append(pending, item)
		}
	}

	selected := SelectLowConfidence(pending)
	questions := make([]domain.FollowUpQuestion, 0, len(selected))
	for _, item := range selected {
		questions = append(questions, domain.FollowUpQuestion{
			Question: fmt.Sprintf("I filed %q under %s but I'm not sure. Is that right, or can you add context?", item.Text, item.Type.Label()),
			Field:    domain.FieldClarification,
			ItemText: item.Text,
			ItemType: item.Type,
		})
	}
	return questions
}

func normalizeItemText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Policy decides the outstanding questions for a turn, calling the model
// for preference questions when the plan requires it.
type Policy struct {
	invoker        *Invoker
	alwaysGenerate bool
	logger         *zap.Logger
}

func NewPolicy(invoker *Invoker, alwaysGenerate bool, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{invoker: invoker, alwaysGenerate: alwaysGenerate, logger: logger}
}

// Decision is the policy's answer plus the follow-up generation call, if
// one was made.
type Decision struct {
	Questions  []domain.FollowUpQuestion
	Generation *Invocation
}

// Decide never fails the turn: a failed generation call falls back to
// built-in question wording.
func (p *Policy) Decide(ctx context.Context, in domain.ClassificationInput, c Classification) Decision {
	plan := PlanQuestions(c.Result, c.Answers)

	toGenerate := plan.Uncovered()
	if p.alwaysGenerate {
		toGenerate = plan.Gaps
	}
	if len(toGenerate) == 0 {
		return Decision{Questions: plan.Questions(nil)}
	}

	prompt := BuildFollowupGenerationPrompt(in.Notes, toGenerate, in.Team, in.Timeframe)
	questions, meta, err := InvokeStructured(ctx, p.invoker, prompt, FollowupSchema)
	if err != nil {
		p.logger.Warn("agent followup generation failed, using built-in questions",
			zap.Int("attempts", meta.Attempts),
			zap.Error(err),
		)
		return Decision{Questions: plan.Questions(nil), Generation: &meta}
	}

	want := map[domain.Field]bool{}
	for _, f := range toGenerate {
		want[f] = true
	}
	generated := map[domain.Field]domain.FollowUpQuestion{}
	for _, q := range questions {
		if !want[q.Field] {
			continue
		}
		if _, dup := generated[q.Field]; !dup {
			generated[q.Field] = q
		}
	}
	return Decision{Questions: plan.Questions(generated), Generation: &meta}
}
