package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Request source types.
const (
	SourceCitizenRequest  = "citizen_request"
	SourceMeetingProtocol = "meeting_protocol"
)

// Request statuses. The pipeline only ever moves a request from new to
// processing; completed and rejected are set by staff.
const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
)

// Request is an inbound citizen request or meeting protocol handled by the
// processing pipeline.
type Request struct {
	ID               int64     `json:"id"`
	SourceType       string    `json:"source_type"`
	Subject          string    `json:"subject"`
	Description      string    `json:"description"`
	CitizenName      string    `json:"citizen_name,omitempty"`
	Status           string    `json:"status"`
	AIClassification string    `json:"ai_classification,omitempty"`
	AIConfidence     float64   `json:"ai_confidence,omitempty"`
	Priority         string    `json:"priority,omitempty"`
	AssignedTo       string    `json:"assigned_to,omitempty"`
	DepartmentID     int64     `json:"department_id,omitempty"`
	PositionID       int64     `json:"position_id,omitempty"`
	AgentID          int64     `json:"agent_id,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	AISuggestion     string    `json:"ai_suggestion,omitempty"`
	AIProcessed      bool      `json:"ai_processed"`
	ResponseText     string    `json:"response_text,omitempty"`
	LedgerRef        string    `json:"ledger_ref,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Agent subtypes.
const (
	SubtypeClassification = "classification"
	SubtypeResponse       = "response"
	SubtypeRouting        = "routing"
	SubtypeGeneric        = "generic"
)

// Agent is a configured model + prompt + behaviour unit.
type Agent struct {
	ID             int64   `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Type           string  `json:"type" yaml:"type"`
	Subtype        string  `json:"subtype" yaml:"subtype"`
	Active         bool    `json:"active" yaml:"active"`
	Model          string  `json:"model,omitempty" yaml:"model"`
	Temperature    float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens      int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	PromptTemplate string  `json:"prompt_template,omitempty" yaml:"prompt_template"`
	UseRAG         bool    `json:"use_rag" yaml:"use_rag"`
}

type Department struct {
	ID       int64  `json:"id" yaml:"id"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	ParentID int64  `json:"parent_id,omitempty" yaml:"parent_id"`
	Level    int    `json:"level" yaml:"level"`
}

type Position struct {
	ID           int64  `json:"id" yaml:"id"`
	DepartmentID int64  `json:"department_id" yaml:"department_id"`
	Name         string `json:"name" yaml:"name"`
	Level        int    `json:"level" yaml:"level"`
	CanApprove   bool   `json:"can_approve" yaml:"can_approve"`
	CanAssign    bool   `json:"can_assign" yaml:"can_assign"`
	HolderID     string `json:"holder_id,omitempty" yaml:"holder_id"`
}

// Rule is an organizational routing rule. Rules are evaluated in SortOrder;
// zero target IDs mean "not set".
type Rule struct {
	ID                 int64    `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Active             bool     `json:"active" yaml:"active"`
	SourceType         string   `json:"source_type" yaml:"source_type"`
	Keywords           []string `json:"keywords,omitempty" yaml:"keywords"`
	ClassificationType string   `json:"classification_type,omitempty" yaml:"classification_type"`
	DepartmentID       int64    `json:"department_id,omitempty" yaml:"department_id"`
	PositionID         int64    `json:"position_id,omitempty" yaml:"position_id"`
	AgentID            int64    `json:"agent_id,omitempty" yaml:"agent_id"`
	SortOrder          int      `json:"sort_order" yaml:"sort_order"`
}

// EntityAgent selects which agent handles a purpose ("classification",
// "response") for an entity type.
type EntityAgent struct {
	EntityType string `json:"entity_type" yaml:"entity_type"`
	Purpose    string `json:"purpose" yaml:"purpose"`
	AgentID    int64  `json:"agent_id" yaml:"agent_id"`
}

type LedgerEntry struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Metadata   string    `json:"metadata"` // JSON object stored as text
	PrevHash   string    `json:"prev_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

type ActivityEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Details    string    `json:"details"` // JSON object stored as text
	CreatedAt  time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type KnowledgeDoc struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Tags      string    `json:"tags"` // JSON array stored as text
	CreatedAt time.Time `json:"created_at"`
	VectorID  string    `json:"vector_id,omitempty"`
}
