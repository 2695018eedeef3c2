package llm

import "strings"

// StripCodeFences removes a surrounding ```json ... ``` (or bare ```) fence
// that models sometimes wrap around JSON output.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
