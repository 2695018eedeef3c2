package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"pulsecheck/internal/domain"
)

const (
	notesStart = "<<<NOTES_START>>>"
	notesEnd   = "<<<NOTES_END>>>"
)

const enginePrimer = "You are a meticulous classification engine. " +
	"You MUST return a single valid JSON object that conforms exactly to the provided schema. " +
	"Do not include commentary, markdown code fences, or extra keys."

var classificationRules = []string{
	"Rules:",
	"1) Read the user's raw notes and extract succinct, non-duplicative items. Merge and normalize duplicates.",
	"2) Type each item as one of: WINS | RISKS | BLOCKERS | DEPENDENCY | NEXT_STEPS.",
	"3) Give every item a confidence score in [0.0, 1.0]. Use higher scores only when the type is unambiguous.",
	fmt.Sprintf("4) Items scoring below %.1f are treated as uncertain and will be confirmed with the user; keep them, do not drop them.", domain.LowConfidenceThreshold),
	"5) Do NOT infer preferences. Copy pov, format, tone and attributionName only when they are given as known preferences or answers.",
	"6) For every preference that is still missing, add a followUpQuestions entry for that field instead of guessing.",
	"   - pov: first | third_limited | third_omniscient",
	"   - format: bullets | paragraph",
	"   - tone: team_chill (conversational) | executive (tight, outcome-oriented) | escalation (crisp, urgent)",
	"   - attributionName: a name or label for third-person phrasing; never ask for it when pov is first.",
	"7) Keep wording tight; avoid fluff.",
}

const classificationShape = `{
  "items": [
    {"type": "WINS", "text": "Shipped new auth flow", "confidence": 0.92},
    {"type": "RISKS", "text": "GPU quota may block eval", "confidence": 0.64}
  ],
  "preferences": {"pov": "first", "format": "bullets", "tone": "executive"},
  "followUpQuestions": [
    {"field": "tone", "question": "Which tone do you want? (team_chill / executive / escalation)"}
  ]
}`

// BuildClassificationPrompt renders the first-pass extraction prompt. Any
// answers from an earlier round are inlined so the model can use them.
func BuildClassificationPrompt(in domain.ClassificationInput) Prompt {
	system := strings.Join([]string{
		enginePrimer,
		"",
		strings.Join(classificationRules, "\n"),
		"",
		"Example of the JSON shape (values will vary):",
		classificationShape,
	}, "\n")

	var b strings.Builder
	b.WriteString("Classify these notes into status items and respond with JSON only.\n")
	writeContext(&b, in.Team, in.Timeframe)
	b.WriteString("\nKnown preferences (may be incomplete):\n")
	b.WriteString(mustIndent(in.Preferences.Normalized()))
	b.WriteString("\n")
	if len(in.Answers) > 0 {
		b.WriteString("\nAnswers to earlier follow-up questions (incorporate them):\n")
		b.WriteString(mustIndent(in.Answers))
		b.WriteString("\n")
	}
	writeNotes(&b, "Raw notes:", in.Notes)

	return Prompt{System: system, User: b.String()}
}

// BuildFollowupGenerationPrompt asks for short questions that map one to
// one onto the missing preference fields.
func BuildFollowupGenerationPrompt(notes string, missing []domain.Field, team, timeframe string) Prompt {
	system := strings.Join([]string{
		"You ask the minimal set of clarifying questions needed to phrase a status report.",
		"Output JSON ONLY that matches the schema: {\"questions\": [{\"field\": ..., \"question\": ...}]}.",
		"Ask at most 4 short questions. Each question maps directly to exactly one field: pov | format | tone | attributionName.",
		"Offer the allowed values in the question text:",
		"  pov: first | third_limited | third_omniscient",
		"  format: bullets | paragraph",
		"  tone: team_chill | executive | escalation",
	}, "\n")

	fields := make([]string, 0, len(missing))
	for _, f := range missing {
		fields = append(fields, string(f))
	}

	var b strings.Builder
	b.WriteString("Write one question for each missing field.\n")
	fmt.Fprintf(&b, "Missing fields: %s\n", strings.Join(fields, ", "))
	writeContext(&b, team, timeframe)
	writeNotes(&b, "Notes for context:", notes)

	return Prompt{System: system, User: b.String()}
}

// BuildFollowupResolutionPrompt asks for a complete re-emission of the prior
// result with the answers merged in.
func BuildFollowupResolutionPrompt(prior domain.ClassificationResult, answers []domain.UserAnswer, additionalNotes string) Prompt {
	system := strings.Join([]string{
		enginePrimer,
		"",
		"You RESOLVE previously asked follow-up questions and re-emit a COMPLETE result, never a diff.",
		"Rules:",
		"1) You receive the prior result JSON and the user's answers.",
		"2) Merge preference answers into preferences. Use clarification answers to retype, reword or rescore the item they reference.",
		"3) Re-output every item, including ones the answers did not touch.",
		"4) If anything is STILL missing, include followUpQuestions for it (keep it minimal). Never ask for attributionName when pov is first.",
		"",
		strings.Join(classificationRules[1:], "\n"),
		"",
		"Example of the JSON shape (values will vary):",
		classificationShape,
	}, "\n")

	var b strings.Builder
	b.WriteString("Resolve the following follow-ups and re-emit a COMPLETE result as JSON only.\n\n")
	b.WriteString("Previous result JSON:\n")
	b.WriteString(mustIndent(prior))
	b.WriteString("\n\nAnswers to follow-up questions:\n")
	b.WriteString(mustIndent(answers))
	b.WriteString("\n")
	if strings.TrimSpace(additionalNotes) != "" {
		writeNotes(&b, "Additional notes:", additionalNotes)
	}

	return Prompt{System: system, User: b.String()}
}

func writeContext(b *strings.Builder, team, timeframe string) {
	if team = strings.TrimSpace(team); team != "" {
		fmt.Fprintf(b, "Team: %s\n", team)
	}
	if timeframe = strings.TrimSpace(timeframe); timeframe != "" {
		fmt.Fprintf(b, "Timeframe: %s\n", timeframe)
	}
}

func writeNotes(b *strings.Builder, heading, notes string) {
	b.WriteString("\n")
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(notesStart)
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(notes))
	b.WriteString("\n")
	b.WriteString(notesEnd)
	b.WriteString("\n")
}

func mustIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
