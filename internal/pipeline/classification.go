package pipeline

import (
	"fmt"
	"strings"

	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/storage"
)

// Classification is the parsed output of a classification task.
type Classification struct {
	Category         string   `json:"classification"`
	Confidence       float64  `json:"confidence"`
	Priority         string   `json:"priority"`
	Summary          string   `json:"summary"`
	Keywords         []string `json:"keywords"`
	NeedsHumanReview bool     `json:"needsHumanReview"`
}

// classificationFrom reads the task fields leniently. Unknown priorities
// become medium.
func classificationFrom(res agent.TaskResult) Classification {
	f := res.Output.Fields
	c := Classification{
		Category:         agent.NormalizeCategory(res.Field("classification")),
		Priority:         agent.NormalizePriority(res.Field("priority")),
		Summary:          res.Field("summary"),
		NeedsHumanReview: res.NeedsHumanReview(),
	}
	if v, ok := f["confidence"].(float64); ok {
		c.Confidence = min(1, max(0, v))
	}
	if kws, ok := f["keywords"].([]any); ok {
		for _, k := range kws {
			if s, ok := k.(string); ok {
				c.Keywords = append(c.Keywords, s)
			}
		}
	}
	return c
}

// departmentCodes maps classification categories to department codes.
var departmentCodes = map[string]string{
	"housing":     "ZHKH",
	"improvement": "BLAG",
	"roads":       "DOR",
	"transport":   "TRANS",
	"social":      "SOC",
	"education":   "EDU",
	"health":      "HEALTH",
	"it":          "IT",
	"legal":       "LEGAL",
	"other":       "ADM",
}

// agentTypes maps a request source type to the agent type that serves it.
var agentTypes = map[string]string{
	storage.SourceCitizenRequest:  "citizen_requests",
	storage.SourceMeetingProtocol: "meeting_protocols",
}

func suggestion(c Classification) string {
	var lines []string
	if c.Category != "" {
		lines = append(lines, fmt.Sprintf("Категория: %s (уверенность %.2f)", c.Category, c.Confidence))
	}
	if len(c.Keywords) > 0 {
		lines = append(lines, "Ключевые слова: "+strings.Join(c.Keywords, ", "))
	}
	if c.NeedsHumanReview {
		lines = append(lines, "Требуется проверка специалистом")
	}
	return strings.Join(lines, "\n")
}
