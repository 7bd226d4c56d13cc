package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Approval is an approver's recorded action on a stage. Rows are append-only
// facts, never updated or deleted.
type Approval struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID   uuid.UUID `gorm:"type:uuid;not null;index" json:"workflowId"`
	StageID      uuid.UUID `gorm:"type:uuid;not null;index" json:"stageId"`
	ApproverID   uuid.UUID `gorm:"type:uuid;not null;index" json:"approverId"`
	ApproverRole Role      `gorm:"type:varchar(50);not null" json:"approverRole"`
	Action       string    `gorm:"type:varchar(20);not null" json:"action"`
	Comments     string    `gorm:"type:text" json:"comments,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for Approval
func (Approval) TableName() string {
	return "approvals"
}

// Approval action constants
const (
	ActionApproved = "approved"
	ActionRejected = "rejected"
)

// AuditLog is one entry in the append-only trail of state transitions.
// It is read by clients and never mutated by them.
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	ActorID    *uuid.UUID     `gorm:"type:uuid" json:"actorId,omitempty"`
	ActorRole  Role           `gorm:"type:varchar(50)" json:"actorRole,omitempty"`
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

// Audit action constants
const (
	AuditWorkflowCreated   = "workflow_created"
	AuditWorkflowSubmitted = "workflow_submitted"
	AuditWorkflowCompleted = "workflow_completed"
	AuditWorkflowCancelled = "workflow_cancelled"
	AuditStageApproved     = "stage_approved"
	AuditStageRejected     = "stage_rejected"
	AuditFileAttached      = "file_attached"
	AuditSequenceReset     = "sequence_reset"
)
