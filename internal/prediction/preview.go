package prediction

import (
	"strings"

	"flowgate/internal/shared"

	"github.com/tidwall/gjson"
)

// Result shapes differ by flow type; the first non-empty string wins.
var previewFields = []string{"text", "answer", "output", "result", "response", "message", "json.text", "data.text"}

var toolCallFields = []string{"usedTools", "toolCalls", "tool_calls", "agentReasoning"}

// ExtractPreview returns at most maxChars of the answer text in body
func ExtractPreview(body []byte, maxChars int) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, field := range previewFields {
		value := gjson.GetBytes(body, field)
		if value.Type != gjson.String {
			continue
		}
		if text := strings.TrimSpace(value.String()); text != "" {
			return shared.Truncate(text, maxChars)
		}
	}
	return ""
}

// CountToolCalls returns the length of the first known tool list in body,
// or nil when none is present.
func CountToolCalls(body []byte) *int {
	if !gjson.ValidBytes(body) {
		return nil
	}
	for _, field := range toolCallFields {
		value := gjson.GetBytes(body, field)
		if value.IsArray() {
			count := len(value.Array())
			return &count
		}
	}
	return nil
}
