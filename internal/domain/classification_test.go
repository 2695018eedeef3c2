package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusType(t *testing.T) {
	tests := []struct {
		in   string
		want StatusType
		ok   bool
	}{
		{in: "WINS", want: StatusWins, ok: true},
		{in: "wins", want: StatusWins, ok: true},
		{in: "nextSteps", want: StatusNextSteps, ok: true},
		{in: "next steps", want: StatusNextSteps, ok: true},
		{in: "NEXT_STEPS", want: StatusNextSteps, ok: true},
		{in: "dependencies", want: StatusDependency, ok: true},
		{in: " Blockers ", want: StatusBlockers, ok: true},
		{in: "issues", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseStatusType(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseStatusType(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParseStatusType(%q)", tt.in)
	}
}

func TestParsePreferenceValues(t *testing.T) {
	pov, ok := ParsePOV("Third Limited")
	require.True(t, ok)
	assert.Equal(t, POVThirdLimited, pov)

	_, ok = ParsePOV("second")
	assert.False(t, ok)

	tone, ok := ParseTone("escalation mode")
	require.True(t, ok)
	assert.Equal(t, ToneEscalation, tone)

	tone, ok = ParseTone("team chill")
	require.True(t, ok)
	assert.Equal(t, ToneTeamChill, tone)

	format, ok := ParseFormat("Paragraph")
	require.True(t, ok)
	assert.Equal(t, FormatParagraph, format)

	field, ok := ParseField("thirdPersonName")
	require.True(t, ok)
	assert.Equal(t, FieldAttributionName, field)
}

func TestAgentPreferencesMissing(t *testing.T) {
	assert.Equal(t, []Field{FieldPOV, FieldFormat, FieldTone}, AgentPreferences{}.Missing())
	assert.Equal(t, []Field{FieldTone}, AgentPreferences{POV: POVFirst, Format: FormatBullets}.Missing())
	assert.Empty(t, AgentPreferences{POV: POVFirst, Format: FormatBullets, Tone: ToneExecutive}.Missing())
}

func TestAgentPreferencesNormalizedDropsNameForFirstPerson(t *testing.T) {
	p := AgentPreferences{POV: POVFirst, AttributionName: "Natalie"}.Normalized()
	assert.Empty(t, p.AttributionName)

	p = AgentPreferences{POV: POVThirdOmniscient, AttributionName: "  Payments Squad "}.Normalized()
	assert.Equal(t, "Payments Squad", p.AttributionName)
	assert.False(t, p.NeedsAttribution())

	assert.True(t, AgentPreferences{POV: POVThirdLimited}.NeedsAttribution())
	assert.False(t, AgentPreferences{POV: POVFirst}.NeedsAttribution())
}

func TestAgentPreferencesValidate(t *testing.T) {
	require.NoError(t, AgentPreferences{}.Validate())
	require.NoError(t, AgentPreferences{POV: POVThirdLimited, Format: FormatParagraph, Tone: ToneTeamChill}.Validate())

	assert.Error(t, AgentPreferences{POV: "second"}.Validate())
	assert.Error(t, AgentPreferences{Format: "table"}.Validate())
	// Aliases are accepted when parsing answers, not as stored values.
	assert.Error(t, AgentPreferences{Tone: "escalation mode"}.Validate())
}

func TestClassifiedItemValidate(t *testing.T) {
	require.NoError(t, ClassifiedItem{Type: StatusWins, Text: "Shipped auth", Confidence: 0.9}.Validate())
	require.NoError(t, ClassifiedItem{Type: StatusRisks, Text: "GPU quota", Confidence: 0}.Validate())
	require.NoError(t, ClassifiedItem{Type: StatusRisks, Text: "GPU quota", Confidence: 1}.Validate())

	assert.Error(t, ClassifiedItem{Type: "wins", Text: "x", Confidence: 0.5}.Validate())
	assert.Error(t, ClassifiedItem{Type: StatusWins, Text: "  ", Confidence: 0.5}.Validate())
	assert.Error(t, ClassifiedItem{Type: StatusWins, Text: "x", Confidence: 1.2}.Validate())
	assert.Error(t, ClassifiedItem{Type: StatusWins, Text: "x", Confidence: -0.1}.Validate())
}

func TestClassifiedItemIsLowConfidence(t *testing.T) {
	assert.True(t, ClassifiedItem{Confidence: 0.69}.IsLowConfidence())
	assert.False(t, ClassifiedItem{Confidence: 0.7}.IsLowConfidence())
}

func TestClassificationInputValidate(t *testing.T) {
	valid := ClassificationInput{Notes: "Finished auth refactor."}
	require.NoError(t, valid.Validate())

	err := ClassificationInput{Notes: "   short  "}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = ClassificationInput{Notes: strings.Repeat("a", MaxNotesLength+1)}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = ClassificationInput{Notes: "Finished auth refactor.", Preferences: AgentPreferences{POV: "second"}}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	// Unknown answer fields are tolerated here and ignored by the policy.
	withAnswers := ClassificationInput{
		Notes:   "Finished auth refactor.",
		Answers: []UserAnswer{{Field: "mood", Answer: "great"}},
	}
	require.NoError(t, withAnswers.Validate())
}
