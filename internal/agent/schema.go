package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pulsecheck/internal/domain"
)

var classificationSchemaDoc = json.RawMessage(`{
  "type": "object",
  "required": ["items", "preferences"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "text", "confidence"],
        "properties": {
          "type": {"type": "string", "enum": ["WINS", "RISKS", "BLOCKERS", "DEPENDENCY", "NEXT_STEPS"]},
          "text": {"type": "string", "minLength": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "preferences": {
      "type": "object",
      "properties": {
        "pov": {"type": "string", "enum": ["", "first", "third_limited", "third_omniscient"]},
        "format": {"type": "string", "enum": ["", "bullets", "paragraph"]},
        "tone": {"type": "string", "enum": ["", "team_chill", "executive", "escalation"]},
        "attributionName": {"type": "string"}
      }
    },
    "followUpQuestions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["field", "question"],
        "properties": {
          "field": {"type": "string", "enum": ["pov", "format", "tone", "attributionName", "clarification"]},
          "question": {"type": "string", "minLength": 1},
          "itemText": {"type": "string"},
          "itemType": {"type": "string"}
        }
      }
    }
  }
}`)

var followupSchemaDoc = json.RawMessage(`{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["field", "question"],
        "properties": {
          "field": {"type": "string", "enum": ["pov", "format", "tone", "attributionName"]},
          "question": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`)

// ClassificationSchema validates a classification or resolution response.
var ClassificationSchema = Schema[domain.ClassificationResult]{
	Name:     "classification_result",
	Document: classificationSchemaDoc,
	Parse:    parseClassificationResult,
}

// FollowupSchema validates a follow-up generation response.
var FollowupSchema = Schema[[]domain.FollowUpQuestion]{
	Name:     "followup_questions",
	Document: followupSchemaDoc,
	Parse:    parseFollowupQuestions,
}

// Wire payloads use pointers so absent required fields are detected rather
// than decoded as zero values.
type itemPayload struct {
	Type       *string  `json:"type"`
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence"`
}

type preferencesPayload struct {
	POV             string `json:"pov"`
	Format          string `json:"format"`
	Tone            string `json:"tone"`
	AttributionName string `json:"attributionName"`
	ThirdPersonName string `json:"thirdPersonName"`
}

type questionPayload struct {
	Field    string `json:"field"`
	ID       string `json:"id"`
	Question string `json:"question"`
	ItemText string `json:"itemText"`
	ItemType string `json:"itemType"`
}

type resultPayload struct {
	Items             *[]itemPayload      `json:"items"`
	Preferences       *preferencesPayload `json:"preferences"`
	FollowUpQuestions []questionPayload   `json:"followUpQuestions"`
}

type followupPayload struct {
	Questions *[]questionPayload `json:"questions"`
}

func parseClassificationResult(raw []byte) (domain.ClassificationResult, error) {
	var payload resultPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decode: %w", err)
	}
	if payload.Items == nil {
		return domain.ClassificationResult{}, errors.New("items is required")
	}

	result := domain.ClassificationResult{Items: make([]domain.ClassifiedItem, 0, len(*payload.Items))}
	for i, p := range *payload.Items {
		item, err := p.toItem()
		if err != nil {
			return domain.ClassificationResult{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		result.Items = append(result.Items, item)
	}

	if payload.Preferences != nil {
		prefs, err := payload.Preferences.toPreferences()
		if err != nil {
			return domain.ClassificationResult{}, fmt.Errorf("preferences: %w", err)
		}
		result.Preferences = prefs
	}

	for i, q := range payload.FollowUpQuestions {
		question, err := q.toQuestion()
		if err != nil {
			return domain.ClassificationResult{}, fmt.Errorf("followUpQuestions[%d]: %w", i, err)
		}
		result.FollowUpQuestions = append(result.FollowUpQuestions, question)
	}
	return result, nil
}

func parseFollowupQuestions(raw []byte) ([]domain.FollowUpQuestion, error) {
	var payload followupPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if payload.Questions == nil {
		return nil, errors.New("questions is required")
	}
	questions := make([]domain.FollowUpQuestion, 0, len(*payload.Questions))
	for i, q := range *payload.Questions {
		question, err := q.toQuestion()
		if err != nil {
			return nil, fmt.Errorf("questions[%d]: %w", i, err)
		}
		if !question.Field.IsPreference() {
			return nil, fmt.Errorf("questions[%d]: field %q is not a preference", i, question.Field)
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func (p itemPayload) toItem() (domain.ClassifiedItem, error) {
	if p.Type == nil {
		return domain.ClassifiedItem{}, errors.New("type is required")
	}
	if p.Text == nil {
		return domain.ClassifiedItem{}, errors.New("text is required")
	}
	if p.Confidence == nil {
		return domain.ClassifiedItem{}, errors.New("confidence is required")
	}
	statusType, ok := domain.ParseStatusType(*p.Type)
	if !ok {
		return domain.ClassifiedItem{}, fmt.Errorf("unknown type %q", *p.Type)
	}
	item := domain.ClassifiedItem{
		Type:       statusType,
		Text:       strings.TrimSpace(*p.Text),
		Confidence: *p.Confidence,
	}
	if err := item.Validate(); err != nil {
		return domain.ClassifiedItem{}, err
	}
	return item, nil
}

func (p preferencesPayload) toPreferences() (domain.AgentPreferences, error) {
	var prefs domain.AgentPreferences
	if strings.TrimSpace(p.POV) != "" {
		v, ok := domain.ParsePOV(p.POV)
		if !ok {
			return prefs, fmt.Errorf("unknown pov %q", p.POV)
		}
		prefs.POV = v
	}
	if strings.TrimSpace(p.Format) != "" {
		v, ok := domain.ParseFormat(p.Format)
		if !ok {
			return prefs, fmt.Errorf("unknown format %q", p.Format)
		}
		prefs.Format = v
	}
	if strings.TrimSpace(p.Tone) != "" {
		v, ok := domain.ParseTone(p.Tone)
		if !ok {
			return prefs, fmt.Errorf("unknown tone %q", p.Tone)
		}
		prefs.Tone = v
	}
	prefs.AttributionName = p.AttributionName
	if strings.TrimSpace(prefs.AttributionName) == "" {
		prefs.AttributionName = p.ThirdPersonName
	}
	return prefs.Normalized(), nil
}

func (p questionPayload) toQuestion() (domain.FollowUpQuestion, error) {
	name := p.Field
	if strings.TrimSpace(name) == "" {
		name = p.ID
	}
	field, ok := domain.ParseField(name)
	if !ok {
		return domain.FollowUpQuestion{}, fmt.Errorf("unknown field %q", name)
	}
	text := strings.TrimSpace(p.Question)
	if text == "" {
		return domain.FollowUpQuestion{}, errors.New("question is required")
	}
	q := domain.FollowUpQuestion{Question: text, Field: field}
	if field == domain.FieldClarification {
		q.ItemText = strings.TrimSpace(p.ItemText)
		if t, ok := domain.ParseStatusType(p.ItemType); ok {
			q.ItemType = t
		}
	}
	return q, nil
}
