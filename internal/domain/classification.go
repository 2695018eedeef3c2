package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// LowConfidenceThreshold is the score below which an item is considered
// uncertain: the clarification policy asks about it and exports mark it.
const LowConfidenceThreshold = 0.7

const (
	MinNotesLength = 10
	MaxNotesLength = 10000
)

var ErrInvalidInput = errors.New("invalid classification input")

type StatusType string

const (
	StatusWins       StatusType = "WINS"
	StatusRisks      StatusType = "RISKS"
	StatusBlockers   StatusType = "BLOCKERS"
	StatusDependency StatusType = "DEPENDENCY"
	StatusNextSteps  StatusType = "NEXT_STEPS"
)

// StatusTypes lists the closed category set in report order.
var StatusTypes = []StatusType{StatusWins, StatusRisks, StatusBlockers, StatusDependency, StatusNextSteps}

func (t StatusType) Label() string {
	switch t {
	case StatusWins:
		return "Wins"
	case StatusRisks:
		return "Risks"
	case StatusBlockers:
		return "Blockers"
	case StatusDependency:
		return "Dependencies"
	case StatusNextSteps:
		return "Next Steps"
	default:
		return string(t)
	}
}

func (t StatusType) Valid() bool {
	for _, known := range StatusTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseStatusType folds case and word separators, so "next steps",
// "nextSteps" and "NEXT_STEPS" all resolve to StatusNextSteps.
func ParseStatusType(s string) (StatusType, bool) {
	switch foldToken(s) {
	case "wins":
		return StatusWins, true
	case "risks":
		return StatusRisks, true
	case "blockers":
		return StatusBlockers, true
	case "dependency", "dependencies":
		return StatusDependency, true
	case "nextsteps":
		return StatusNextSteps, true
	}
	return "", false
}

type POV string

const (
	POVFirst           POV = "first"
	POVThirdLimited    POV = "third_limited"
	POVThirdOmniscient POV = "third_omniscient"
)

func (p POV) IsThirdPerson() bool {
	return p == POVThirdLimited || p == POVThirdOmniscient
}

func ParsePOV(s string) (POV, bool) {
	switch foldToken(s) {
	case "first", "firstperson":
		return POVFirst, true
	case "thirdlimited", "thirdpersonlimited", "thirdpersonlimitedindividual":
		return POVThirdLimited, true
	case "thirdomniscient", "thirdpersonomniscient", "thirdpersonomniscientteam":
		return POVThirdOmniscient, true
	}
	return "", false
}

type Format string

const (
	FormatBullets   Format = "bullets"
	FormatParagraph Format = "paragraph"
)

func ParseFormat(s string) (Format, bool) {
	switch foldToken(s) {
	case "bullets":
		return FormatBullets, true
	case "paragraph":
		return FormatParagraph, true
	}
	return "", false
}

type Tone string

const (
	ToneTeamChill  Tone = "team_chill"
	ToneExecutive  Tone = "executive"
	ToneEscalation Tone = "escalation"
)

func ParseTone(s string) (Tone, bool) {
	switch foldToken(s) {
	case "teamchill":
		return ToneTeamChill, true
	case "executive":
		return ToneExecutive, true
	case "escalation", "escalationmode":
		return ToneEscalation, true
	}
	return "", false
}

// Field names what a follow-up question or answer resolves.
type Field string

const (
	FieldPOV             Field = "pov"
	FieldFormat          Field = "format"
	FieldTone            Field = "tone"
	FieldAttributionName Field = "attributionName"
	FieldClarification   Field = "clarification"
)

func ParseField(s string) (Field, bool) {
	switch foldToken(s) {
	case "pov":
		return FieldPOV, true
	case "format":
		return FieldFormat, true
	case "tone":
		return FieldTone, true
	case "attributionname", "thirdpersonname":
		return FieldAttributionName, true
	case "clarification":
		return FieldClarification, true
	}
	return "", false
}

// IsPreference reports whether the field shapes output rather than
// clarifying an item.
func (f Field) IsPreference() bool {
	switch f {
	case FieldPOV, FieldFormat, FieldTone, FieldAttributionName:
		return true
	}
	return false
}

type AgentPreferences struct {
	POV             POV    `json:"pov,omitempty"`
	Format          Format `json:"format,omitempty"`
	Tone            Tone   `json:"tone,omitempty"`
	AttributionName string `json:"attributionName,omitempty"`
}

// Missing returns the unset required fields in question order.
func (p AgentPreferences) Missing() []Field {
	var missing []Field
	if p.POV == "" {
		missing = append(missing, FieldPOV)
	}
	if p.Format == "" {
		missing = append(missing, FieldFormat)
	}
	if p.Tone == "" {
		missing = append(missing, FieldTone)
	}
	return missing
}

// NeedsAttribution reports whether a third-person pov still lacks a name.
func (p AgentPreferences) NeedsAttribution() bool {
	return p.POV.IsThirdPerson() && strings.TrimSpace(p.AttributionName) == ""
}

// Normalized trims the name and drops it for first-person output.
func (p AgentPreferences) Normalized() AgentPreferences {
	p.AttributionName = strings.TrimSpace(p.AttributionName)
	if p.POV == POVFirst {
		p.AttributionName = ""
	}
	return p
}

func (p AgentPreferences) IsEmpty() bool {
	return p == AgentPreferences{}
}

func (p AgentPreferences) Validate() error {
	if p.POV != "" {
		if v, ok := ParsePOV(string(p.POV)); !ok || v != p.POV {
			return fmt.Errorf("unknown pov %q", p.POV)
		}
	}
	if p.Format != "" {
		if v, ok := ParseFormat(string(p.Format)); !ok || v != p.Format {
			return fmt.Errorf("unknown format %q", p.Format)
		}
	}
	if p.Tone != "" {
		if v, ok := ParseTone(string(p.Tone)); !ok || v != p.Tone {
			return fmt.Errorf("unknown tone %q", p.Tone)
		}
	}
	return nil
}

type ClassifiedItem struct {
	Type       StatusType `json:"type"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
}

func (i ClassifiedItem) IsLowConfidence() bool {
	return i.Confidence < LowConfidenceThreshold
}

func (i ClassifiedItem) Validate() error {
	if !i.Type.Valid() {
		return fmt.Errorf("unknown item type %q", i.Type)
	}
	if strings.TrimSpace(i.Text) == "" {
		return errors.New("item text is empty")
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", i.Confidence)
	}
	return nil
}

type FollowUpQuestion struct {
	Question string     `json:"question"`
	Field    Field      `json:"field"`
	ItemText string     `json:"itemText,omitempty"`
	ItemType StatusType `json:"itemType,omitempty"`
}

type UserAnswer struct {
	Field    Field  `json:"field"`
	Answer   string `json:"answer"`
	ItemText string `json:"itemText,omitempty"`
}

type ClassificationResult struct {
	Items             []ClassifiedItem   `json:"items"`
	Preferences       AgentPreferences   `json:"preferences"`
	FollowUpQuestions []FollowUpQuestion `json:"followUpQuestions,omitempty"`
}

// ClassificationInput is one turn's request. Previous, when set, is the
// last turn's result and switches the engine to follow-up resolution.
type ClassificationInput struct {
	Notes       string                `json:"notes"`
	Preferences AgentPreferences      `json:"preferences"`
	Team        string                `json:"team,omitempty"`
	Timeframe   string                `json:"timeframe,omitempty"`
	Answers     []UserAnswer          `json:"answers,omitempty"`
	Previous    *ClassificationResult `json:"previous,omitempty"`
}

func (in ClassificationInput) Validate() error {
	notes := strings.TrimSpace(in.Notes)
	n := utf8.RuneCountInString(notes)
	if n < MinNotesLength {
		return fmt.Errorf("%w: notes must be at least %d characters", ErrInvalidInput, MinNotesLength)
	}
	if n > MaxNotesLength {
		return fmt.Errorf("%w: notes cannot exceed %d characters", ErrInvalidInput, MaxNotesLength)
	}
	if err := in.Preferences.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func foldToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}
