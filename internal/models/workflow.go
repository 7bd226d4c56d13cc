package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// WorkflowInstance is one document's journey through its approval stages.
// It owns the header metadata; its stages live in their own table and hold a
// workflow_id back-reference (lookup key, not an owning pointer).
type WorkflowInstance struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowNumber    string         `gorm:"type:varchar(50);not null;uniqueIndex" json:"workflowNumber"`
	WorkflowType      string         `gorm:"type:varchar(50);not null;index" json:"workflowType"`
	TemplateID        *uuid.UUID     `gorm:"type:uuid" json:"templateId,omitempty"`
	Title             string         `gorm:"type:varchar(255);not null" json:"title"`
	Description       string         `gorm:"type:text" json:"description,omitempty"`
	Department        string         `gorm:"type:varchar(100);not null;index" json:"department"`
	RequesterID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"requesterId"`
	RequesterEmail    string         `gorm:"type:varchar(255)" json:"requesterEmail,omitempty"`
	EstimatedAmount   *float64       `json:"estimatedAmount,omitempty"`
	Currency          string         `gorm:"type:varchar(10)" json:"currency,omitempty"`
	BypassUploadRoles pq.StringArray `gorm:"type:text[]" json:"bypassUploadRoles,omitempty"`
	Status            string         `gorm:"type:varchar(30);not null;default:'draft';index" json:"status"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for WorkflowInstance
func (WorkflowInstance) TableName() string {
	return "workflow_instances"
}

// Workflow status constants
const (
	WorkflowStatusDraft      = "draft"
	WorkflowStatusInProgress = "in_progress"
	WorkflowStatusCompleted  = "completed"
	WorkflowStatusRejected   = "rejected"
	WorkflowStatusCancelled  = "cancelled"
)

// IsTerminal returns true if the workflow can never change state again.
func (w *WorkflowInstance) IsTerminal() bool {
	return w.Status == WorkflowStatusCompleted ||
		w.Status == WorkflowStatusRejected ||
		w.Status == WorkflowStatusCancelled
}

// StageInstance is a snapshot of one StageDefinition, cloned at workflow
// creation time. Template edits after instantiation never change it.
// At most one stage per workflow is in_progress at any time.
type StageInstance struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	StageOrder           int            `gorm:"not null" json:"stageOrder"`
	StageName            string         `gorm:"type:varchar(255);not null" json:"stageName"`
	Description          string         `gorm:"type:text" json:"description,omitempty"`
	Department           string         `gorm:"type:varchar(100)" json:"department,omitempty"`
	RequiredRole         Role           `gorm:"type:varchar(50)" json:"requiredRole,omitempty"`
	RequiresOneOf        pq.StringArray `gorm:"type:text[]" json:"requiresOneOf,omitempty"`
	ApprovalRequired     bool           `gorm:"default:true" json:"approvalRequired"`
	FileUploadRequired   bool           `gorm:"default:false" json:"fileUploadRequired"`
	NotifyEmails         pq.StringArray `gorm:"type:text[]" json:"notifyEmails,omitempty"`
	VisibleToDepartments pq.StringArray `gorm:"type:text[]" json:"visibleToDepartments,omitempty"`
	Status               string         `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	CompletedAt          *time.Time     `json:"completedAt,omitempty"`
	LastRemindedAt       *time.Time     `json:"lastRemindedAt,omitempty"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for StageInstance
func (StageInstance) TableName() string {
	return "stage_instances"
}

// Stage status constants
const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusCompleted  = "completed"
	StageStatusRejected   = "rejected"
)

// RoleMatches reports whether a role satisfies the stage's role requirement,
// ignoring department visibility. Admin always matches.
func (s *StageInstance) RoleMatches(role Role) bool {
	if role == RoleAdmin {
		return true
	}
	if s.RequiredRole != "" && role == s.RequiredRole {
		return true
	}
	for _, r := range s.RequiresOneOf {
		if role == Role(r) {
			return true
		}
	}
	return false
}
