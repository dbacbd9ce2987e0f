package composer

import (
	"fmt"
	"strings"
)

// prompt accumulates one rendered template. Optional fields whose metadata
// value is missing or empty are skipped entirely.
type prompt struct {
	sb   strings.Builder
	meta map[string]any
}

func (p *prompt) line(s string) {
	p.sb.WriteString(s)
	p.sb.WriteString("\n")
}

func (p *prompt) field(label, key string) {
	v, ok := p.meta[key]
	if !ok || isEmpty(v) {
		return
	}
	p.line(label + ": " + formatValue(v))
}

func (p *prompt) has(key string) bool {
	v, ok := p.meta[key]
	return ok && !isEmpty(v)
}

func (p *prompt) body(label, content string) {
	p.line("")
	p.line(label + ":")
	p.line(content)
}

var templates = map[string]func(p *prompt, content string){
	"classification":  classificationTemplate,
	"summarization":   summarizationTemplate,
	"response":        responseTemplate,
	"analytics":       analyticsTemplate,
	"protocol":        protocolTemplate,
	"translation":     translationTemplate,
	"citizen_request": citizenRequestTemplate,
	"document":        documentTemplate,
}

const classificationSchema = `{"classification": "<category>", "confidence": <0..1>, "priority": "low|medium|high|urgent", "summary": "<one sentence>", "keywords": ["..."], "needsHumanReview": <true|false>}`

func classificationTemplate(p *prompt, content string) {
	p.line("Classify the citizen request below for a municipal service desk.")
	p.field("Subject", "subject")
	p.field("Citizen", "citizenName")
	p.field("Source", "sourceType")
	if p.has("categories") {
		p.field("Allowed categories", "categories")
	} else {
		p.line("Allowed categories: " + strings.Join(Categories, ", "))
	}
	p.body("Request", content)
	p.line("")
	p.line("Respond with JSON only, no prose:")
	p.line(classificationSchema)
}

func summarizationTemplate(p *prompt, content string) {
	p.line("Summarize the text below in plain language for a civil servant.")
	p.field("Title", "title")
	p.field("Maximum length (words)", "maxLength")
	p.body("Text", content)
}

func responseTemplate(p *prompt, content string) {
	p.line("Draft a polite official reply to the citizen request below. Answer in the language of the request.")
	p.field("Subject", "subject")
	p.field("Citizen", "citizenName")
	p.field("Category", "classification")
	p.field("Summary", "summary")
	p.field("Tone", "tone")
	p.body("Request", content)
}

func analyticsTemplate(p *prompt, content string) {
	p.line("Analyze the data below and report trends, anomalies and recommendations.")
	p.field("Period", "period")
	p.field("Metrics", "metrics")
	p.body("Data", content)
	p.line("")
	p.line(`Respond with JSON only: {"summary": "...", "trends": ["..."], "anomalies": ["..."], "recommendations": ["..."]}`)
}

func protocolTemplate(p *prompt, content string) {
	p.line("Extract the decisions and action items from the meeting protocol below.")
	p.field("Meeting", "title")
	p.field("Date", "meetingDate")
	p.field("Participants", "participants")
	p.body("Protocol", content)
	p.line("")
	p.line(`Respond with JSON only: {"summary": "...", "decisions": ["..."], "tasks": [{"description": "...", "assignee": "...", "deadline": "..."}]}`)
}

func translationTemplate(p *prompt, content string) {
	p.line("Translate the text below, preserving meaning and official register.")
	p.field("Source language", "sourceLanguage")
	p.field("Target language", "targetLanguage")
	p.body("Text", content)
}

func citizenRequestTemplate(p *prompt, content string) {
	p.line("Process the citizen request below: determine the category, urgency and the department responsible.")
	p.field("Subject", "subject")
	p.field("Citizen", "citizenName")
	p.field("Address", "address")
	p.body("Request", content)
	p.line("")
	p.line(`Respond with JSON only: {"category": "...", "priority": "low|medium|high|urgent", "department": "...", "summary": "...", "suggestedActions": ["..."]}`)
}

func documentTemplate(p *prompt, content string) {
	p.line("Review the document below and extract its key points.")
	p.field("Document type", "documentType")
	p.field("Title", "title")
	p.body("Document", content)
	if p.meta["outputFormat"] == "json" {
		p.line("")
		p.line(`Respond with JSON only: {"summary": "...", "keyPoints": ["..."], "deadlines": ["..."], "responsible": ["..."]}`)
	}
}

// genericTemplate serves rag and any task type without a dedicated template.
func genericTemplate(p *prompt, content string) {
	p.line("Answer the request below accurately and concisely.")
	p.field("Subject", "subject")
	p.body("Request", content)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}
