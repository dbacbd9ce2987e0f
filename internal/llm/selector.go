package llm

import "unicode/utf8"

// LargeContextThreshold is the estimated token count above which the
// large-context model is chosen.
const LargeContextThreshold = 64000

// Catalog names the models the selector chooses between.
type Catalog struct {
	Fast         string // high priority classification / summarization
	Quality      string // high priority response / protocol
	Fallback     string // high priority, other task types
	LargeContext string

	// Economical per-task defaults.
	Classification string
	Summarization  string
	Response       string
	Generic        string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Fast:           "gpt-4o",
		Quality:        "claude-3-5-sonnet-20241022",
		Fallback:       "gpt-4-turbo",
		LargeContext:   "claude-3-opus-20240229",
		Classification: "gpt-4o-mini",
		Summarization:  "claude-3-haiku-20240307",
		Response:       "claude-3-5-haiku-20241022",
		Generic:        "gpt-3.5-turbo",
	}
}

// Selection is the model and generation settings chosen for one task.
type Selection struct {
	Model       string
	Provider    Provider
	MaxTokens   int
	Temperature float64
}

// Params converts the selection to gateway call parameters.
func (s Selection) Params() Params {
	return Params{Model: s.Model, MaxTokens: s.MaxTokens, Temperature: s.Temperature}
}

// Selector picks a model for a task. It does no I/O and is deterministic.
type Selector struct {
	catalog Catalog
}

func NewSelector(c Catalog) *Selector {
	def := DefaultCatalog()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&c.Fast, def.Fast)
	fill(&c.Quality, def.Quality)
	fill(&c.Fallback, def.Fallback)
	fill(&c.LargeContext, def.LargeContext)
	fill(&c.Classification, def.Classification)
	fill(&c.Summarization, def.Summarization)
	fill(&c.Response, def.Response)
	fill(&c.Generic, def.Generic)
	return &Selector{catalog: c}
}

// EstimateTokens approximates the token count of s as characters / 4.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// Select applies, in order: priority (high/urgent), input size, then the
// economical default for the task type.
func (s *Selector) Select(taskType, content, priority string) Selection {
	c := s.catalog

	if priority == "high" || priority == "urgent" {
		switch taskType {
		case "classification", "summarization":
			return pick(c.Fast, 1000, 0.2)
		case "response", "protocol":
			return pick(c.Quality, 4000, 0.7)
		default:
			return pick(c.Fallback, 2000, 0.5)
		}
	}

	if EstimateTokens(content) > LargeContextThreshold {
		return pick(c.LargeContext, 8000, 0.3)
	}

	switch taskType {
	case "classification":
		return pick(c.Classification, 500, 0.1)
	case "summarization":
		return pick(c.Summarization, 1000, 0.3)
	case "response":
		return pick(c.Response, 2000, 0.6)
	default:
		return pick(c.Generic, 1500, 0.4)
	}
}

func pick(model string, maxTokens int, temperature float64) Selection {
	return Selection{
		Model:       model,
		Provider:    ResolveProvider(model),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
