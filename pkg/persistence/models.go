package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Node is a typed vertex in a project graph. Type is an open vocabulary
// (Requirement, Test, Component, Interface, Task, ...).
//
//nolint:govet // struct alignment optimization not critical for this type
type Node struct {
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status,omitempty"`
	Subsystem    string         `json:"subsystem,omitempty"`
	Owner        string         `json:"owner,omitempty"`
	ExternalRefs map[string]any `json:"external_refs,omitempty"` // schema-on-read JSON blob
	Metadata     map[string]any `json:"metadata,omitempty"`      // schema-on-read JSON blob
}

// Edge is a directed, weighted arc between two nodes of the same project.
// Bidirectional edges are traversed in both directions by pathfinding.
//
//nolint:govet // struct alignment optimization not critical for this type
type Edge struct {
	CreatedAt      time.Time      `json:"created_at"`
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	FromNodeID     string         `json:"from_node_id"`
	ToNodeID       string         `json:"to_node_id"`
	RelationType   string         `json:"relation_type"`
	SourceSystem   string         `json:"source_system,omitempty"`
	Weight         float64        `json:"weight"`
	Bidirectional  bool           `json:"bidirectional"`
	WeightMetadata map[string]any `json:"weight_metadata,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Event type constants.
const (
	EventCreated       = "created"
	EventUpdated       = "updated"
	EventDeleted       = "deleted"
	EventLinked        = "linked"
	EventUnlinked      = "unlinked"
	EventStatusChanged = "status_changed"
)

// EntityTypeEdge is the sentinel entity type marking events that concern
// edges rather than nodes; change-set stats count it separately.
const EntityTypeEdge = "edge"

// DiffPayload describes what changed in an event.
type DiffPayload struct {
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	FieldsChanged []string       `json:"fields_changed,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Event is one immutable row of the append-only change ledger. Events are
// never updated; deletion happens only through explicit retention sweeps.
//
//nolint:govet // struct alignment optimization not critical for this type
type Event struct {
	Timestamp    time.Time   `json:"timestamp"`
	ID           string      `json:"id"`
	ProjectID    string      `json:"project_id"`
	SourceSystem string      `json:"source_system"`
	EntityType   string      `json:"entity_type"`
	EntityID     string      `json:"entity_id"`
	EventType    string      `json:"event_type"`
	DiffPayload  DiffPayload `json:"diff_payload"`
}

// ChangeSetStats are derived from the attached event set. They are always
// recomputed from scratch, never incrementally patched.
type ChangeSetStats struct {
	TotalEvents       int            `json:"total_events"`
	CountsByType      map[string]int `json:"counts_by_type"`
	CountsByEventType map[string]int `json:"counts_by_event_type"`
	CountsByDomain    map[string]int `json:"counts_by_domain"`
	AffectedNodes     int            `json:"affected_nodes"`
	AffectedEdges     int            `json:"affected_edges"`
}

// ChangeSet is a named aggregation of events. Anchor is unique per project
// and drives get-or-create semantics (first writer wins).
//
//nolint:govet // struct alignment optimization not critical for this type
type ChangeSet struct {
	CreatedAt time.Time      `json:"created_at"`
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Anchor    string         `json:"anchor"`
	Label     string         `json:"label"`
	Stats     ChangeSetStats `json:"stats"`
}

// Task status constants.
const (
	TaskStatusBacklog    = "backlog"
	TaskStatusInProgress = "in_progress"
	TaskStatusReview     = "review"
	TaskStatusDone       = "done"
)

// Assignee type constants.
const (
	AssigneeAgent = "agent"
	AssigneeHuman = "human"
)

// Task is a unit of governed work.
//
//nolint:govet // struct alignment optimization not critical for this type
type Task struct {
	CreatedAt          time.Time `json:"created_at"`
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Status             string    `json:"status"`
	AssigneeType       string    `json:"assignee_type"`
	AssigneeID         string    `json:"assignee_id,omitempty"`
	ContextNodeID      string    `json:"context_node_id,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria,omitempty"`
	Priority           int       `json:"priority"`
}

// Plan status constants.
const (
	PlanStatusPending  = "pending"
	PlanStatusApproved = "approved"
	PlanStatusRejected = "rejected"
	PlanStatusExecuted = "executed"
)

// PlanStep is one ordered step of a proposed execution plan.
type PlanStep struct {
	StepNumber     int            `json:"step_number"`
	Action         string         `json:"action"`
	Tool           string         `json:"tool"`
	Args           map[string]any `json:"args,omitempty"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
}

// Plan is an agent-proposed execution plan awaiting human review.
//
//nolint:govet // struct alignment optimization not critical for this type
type Plan struct {
	CreatedAt        time.Time  `json:"created_at"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	ID               string     `json:"id"`
	TaskID           string     `json:"task_id"`
	ProposedBy       string     `json:"proposed_by"`
	Rationale        string     `json:"rationale"`
	Status           string     `json:"status"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	ReviewFeedback   string     `json:"review_feedback,omitempty"`
	Steps            []PlanStep `json:"steps"`
	PlannedTraversal []string   `json:"planned_traversal,omitempty"` // node ids, in order
}

// Run status constants. "failed" is a deliberate addition: the run state
// machine needs a terminal state for aborted executions.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one execution of an approved plan.
//
//nolint:govet // struct alignment optimization not critical for this type
type Run struct {
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id"`
	PlanID          string     `json:"plan_id"`
	Status          string     `json:"status"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	Artifacts       []string   `json:"artifacts,omitempty"`
	ActualTraversal []string   `json:"actual_traversal,omitempty"`
}

// Verification status constants.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// Verification is the evidence-review record seeded for each acceptance
// criterion on task completion. Pending rows are placeholders for human or
// automatic review, not pass/fail judgments.
//
//nolint:govet // struct alignment optimization not critical for this type
type Verification struct {
	VerifiedAt    time.Time `json:"verified_at"`
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	RunID         string    `json:"run_id"`
	CriterionID   string    `json:"criterion_id"`
	CriterionText string    `json:"criterion_text"`
	EvidenceType  string    `json:"evidence_type,omitempty"`
	EvidenceRef   string    `json:"evidence_ref,omitempty"`
	VerifiedBy    string    `json:"verified_by"`
	Status        string    `json:"status"`
}

// Decision type constants.
const (
	DecisionPathSelection      = "path_selection"
	DecisionToolChoice         = "tool_choice"
	DecisionParameterSelection = "parameter_selection"
	DecisionTermination        = "termination"
)

// DefaultDecisionConfidence is applied when a decision omits confidence.
const DefaultDecisionConfidence = 0.8

// DecisionTrace is an append-only audit record of agent reasoning during a
// run. It is never read back for control flow.
//
//nolint:govet // struct alignment optimization not critical for this type
type DecisionTrace struct {
	Timestamp         time.Time      `json:"timestamp"`
	ID                string         `json:"id"`
	RunID             string         `json:"run_id"`
	DecisionType      string         `json:"decision_type"`
	Reasoning         string         `json:"reasoning"`
	SelectedOption    string         `json:"selected_option,omitempty"`
	Confidence        float64        `json:"confidence"`
	ContextSnapshot   map[string]any `json:"context_snapshot,omitempty"`
	OptionsConsidered []string       `json:"options_considered,omitempty"`
}

// Precedent records a completed task pattern for heuristic lookup.
type Precedent struct {
	LastUsedAt   time.Time `json:"last_used_at"`
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Pattern      string    `json:"pattern"`
	SuccessCount int       `json:"success_count"`
}

// NodeFilter selects nodes; all populated criteria combine with AND, and
// slice-valued criteria match by membership.
//
//nolint:govet // struct alignment optimization not critical for this type
type NodeFilter struct {
	ProjectID  string
	Types      []string
	Subsystems []string
	Statuses   []string
	IDs        []string
	Owner      string
	Limit      int
	Offset     int
}

// EdgeFilter selects edges; semantics mirror NodeFilter.
//
//nolint:govet // struct alignment optimization not critical for this type
type EdgeFilter struct {
	ProjectID     string
	FromNodeIDs   []string
	ToNodeIDs     []string
	RelationTypes []string
	SourceSystems []string
	Limit         int
	Offset        int
}

// EventFilter selects ledger events, newest first.
//
//nolint:govet // struct alignment optimization not critical for this type
type EventFilter struct {
	ProjectID    string
	SourceSystem string
	EntityType   string
	EntityIDs    []string
	EventTypes   []string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// TaskFilter selects governance tasks.
//
//nolint:govet // struct alignment optimization not critical for this type
type TaskFilter struct {
	ProjectID    string
	AssigneeType string
	AssigneeID   string // matches the assignee or unassigned tasks
	Statuses     []string
	Limit        int
}

// NewID generates a fresh UUID string for any record type.
func NewID() string {
	return uuid.New().String()
}
