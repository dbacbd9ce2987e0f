package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseJSON extracts the first JSON object from a model response, tolerating
// markdown code fences and surrounding prose.
func parseJSON(resp string) (map[string]any, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrResponseParse)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseParse, err)
	}
	return out, nil
}

// degraded is the output used when a structured response cannot be parsed.
func degraded(t Task, text string) map[string]any {
	fields := map[string]any{
		"needsHumanReview": true,
		"rawResponse":      text,
	}
	if t.Type == TypeClassification {
		fields["priority"] = "medium"
	}
	return fields
}
