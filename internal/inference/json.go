package inference

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON pulls the JSON object out of model text that may carry
// markdown fences or prose around it.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := cleanJSON(text)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, eris.New("no object found")
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, eris.New("object is not valid JSON")
	}
	return json.RawMessage(cleaned), nil
}

// cleanJSON strips code fences and keeps the text between the first { and
// the last }.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
