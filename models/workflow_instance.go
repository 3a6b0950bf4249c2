package models

import (
	"time"

	"gorm.io/datatypes"
)

type WorkflowType string

const (
	WorkflowMint  WorkflowType = "mint"
	WorkflowForge WorkflowType = "forge"
)

// WorkflowStatus: running → succeeded | failed. Terminal states are final.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// FailureCategory is the error taxonomy carried by every failed instance.
type FailureCategory string

const (
	FailureBusinessRule   FailureCategory = "business_rule"
	FailureInfrastructure FailureCategory = "infrastructure"
	FailureLedgerRejected FailureCategory = "ledger_rejected"
	FailureTimeout        FailureCategory = "timeout"
	FailureStuck          FailureCategory = "stuck"
	FailureCancelled      FailureCategory = "cancelled"
)

// WorkflowInstance is the unit of durable execution for a mint or forge.
// Only the workflow engine writes to it.
type WorkflowInstance struct {
	ID string `gorm:"primaryKey;type:varchar(64)" json:"id"`

	// At most one running instance per (type, subject).
	Type      WorkflowType `gorm:"type:varchar(16);not null;uniqueIndex:idx_workflow_active_subject,priority:1,where:status = 'running'" json:"type"`
	SubjectID string       `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_workflow_active_subject,priority:2" json:"subject_id"`

	CurrentStep   string         `gorm:"type:varchar(64);not null" json:"current_step"`
	Status        WorkflowStatus `gorm:"type:varchar(16);not null;index:idx_workflow_due,priority:1" json:"status"`
	NextRunAt     time.Time      `gorm:"not null;index:idx_workflow_due,priority:2" json:"next_run_at"`
	StepAttempts  int            `gorm:"not null;default:0" json:"step_attempts"`
	StepFailures  int            `gorm:"not null;default:0" json:"step_failures"`
	PollStartedAt *time.Time     `json:"poll_started_at,omitempty"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`

	FailureStep      string          `gorm:"type:varchar(64)" json:"failure_step,omitempty"`
	FailureCategory  FailureCategory `gorm:"type:varchar(32)" json:"failure_category,omitempty"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason,omitempty"`
	NeedsRemediation bool            `gorm:"not null;default:false;index" json:"needs_remediation"`

	ArchivedAt *time.Time `gorm:"index" json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	History []WorkflowStepRecord `gorm:"foreignKey:WorkflowID" json:"history,omitempty"`
}

// IsTerminal reports whether the instance reached succeeded or failed.
func (w *WorkflowInstance) IsTerminal() bool {
	return w.Status == WorkflowSucceeded || w.Status == WorkflowFailed
}

type StepOutcome string

const (
	OutcomeCompleted StepOutcome = "completed"
	OutcomeFailed    StepOutcome = "failed"
)

// WorkflowStepRecord is one append-only entry of an instance's step history.
type WorkflowStepRecord struct {
	ID          uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	WorkflowID  string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_step_history_seq,priority:1" json:"workflow_id"`
	Seq         int               `gorm:"not null;uniqueIndex:idx_step_history_seq,priority:2" json:"seq"`
	StepName    string            `gorm:"type:varchar(64);not null" json:"step"`
	Outcome     StepOutcome       `gorm:"type:varchar(16);not null" json:"outcome"`
	ExternalRef string            `gorm:"type:varchar(128)" json:"external_ref,omitempty"`
	Output      datatypes.JSONMap `json:"output,omitempty"`
	Detail      string            `gorm:"type:text" json:"detail,omitempty"`
	RecordedAt  time.Time         `gorm:"not null" json:"recorded_at"`
}

func (WorkflowStepRecord) TableName() string {
	return "workflow_step_history"
}
