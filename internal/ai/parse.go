package ai

import (
	"encoding/json"
	"strings"
)

// maxRawExcerpt bounds the raw text echoed into the fallback summary.
const maxRawExcerpt = 500

var validRiskLevels = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// parseResponse decodes the model reply. Replies wrapped in a ```json or
// plain ``` fence are unwrapped first. A reply that still fails to decode
// degrades to a well-formed result with no comments and a raw excerpt in
// the summary; this function never fails.
func parseResponse(text string) *Result {
	stripped := stripCodeFence(strings.TrimSpace(text))

	var result Result
	if err := json.Unmarshal([]byte(stripped), &result); err != nil {
		excerpt := stripped
		if len(excerpt) > maxRawExcerpt {
			excerpt = excerpt[:maxRawExcerpt] + "..."
		}
		return &Result{
			Summary:   "The reviewer returned an unstructured response: " + excerpt,
			RiskLevel: "medium",
			Comments:  []Comment{},
		}
	}

	if !validRiskLevels[result.RiskLevel] {
		result.RiskLevel = "medium"
	}
	if result.Comments == nil {
		result.Comments = []Comment{}
	}
	return &result
}

// stripCodeFence removes a single surrounding ```json ... ``` or
// ``` ... ``` fence.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	body := text
	if strings.HasPrefix(body, "```json") {
		body = strings.TrimPrefix(body, "```json")
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
