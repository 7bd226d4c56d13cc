package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Workflow type constants for the built-in document types.
const (
	WorkflowTypeMAF             = "MAF"
	WorkflowTypePurchaseRequest = "PR"
	WorkflowTypeCapex           = "CAPEX"
)

// WorkflowTemplate is a reusable, named ordered list of stage definitions
// for a workflow type. Templates are authored once and cloned into
// WorkflowInstances at creation time; later edits never affect instances
// already in flight.
type WorkflowTemplate struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowType      string         `gorm:"type:varchar(50);not null;index" json:"workflowType"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description,omitempty"`
	BypassUploadRoles pq.StringArray `gorm:"type:text[]" json:"bypassUploadRoles,omitempty"`
	IsActive          bool           `gorm:"default:true" json:"isActive"`
	IsDefault         bool           `gorm:"default:false" json:"isDefault"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	Stages []StageDefinition `gorm:"foreignKey:TemplateID" json:"stages,omitempty"`
}

// TableName returns the table name for WorkflowTemplate
func (WorkflowTemplate) TableName() string {
	return "workflow_templates"
}

// StageDefinition is one ordered approval step within a template.
type StageDefinition struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TemplateID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"templateId"`
	StageOrder           int            `gorm:"not null" json:"stageOrder"`
	Name                 string         `gorm:"type:varchar(255);not null" json:"name"`
	Description          string         `gorm:"type:text" json:"description,omitempty"`
	Department           string         `gorm:"type:varchar(100)" json:"department,omitempty"`
	RequiredRole         Role           `gorm:"type:varchar(50)" json:"requiredRole,omitempty"`
	RequiresOneOf        pq.StringArray `gorm:"type:text[]" json:"requiresOneOf,omitempty"`
	ApprovalRequired     bool           `gorm:"default:true" json:"approvalRequired"`
	FileUploadRequired   bool           `gorm:"default:false" json:"fileUploadRequired"`
	NotifyEmails         pq.StringArray `gorm:"type:text[]" json:"notifyEmails,omitempty"`
	VisibleToDepartments pq.StringArray `gorm:"type:text[]" json:"visibleToDepartments,omitempty"`
	ApprovalThreshold    *float64       `json:"approvalThreshold,omitempty"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for StageDefinition
func (StageDefinition) TableName() string {
	return "stage_definitions"
}

// Validate checks the authoring invariants enforced at template-save time:
// stage orders must be contiguous starting at 1 and unique, each stage must
// be named, and any role references must belong to the closed role set.
// Duplicate or gap orders are rejected here, never at instantiation time.
func (t *WorkflowTemplate) Validate() error {
	if t.WorkflowType == "" {
		return fmt.Errorf("workflowType is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("template must define at least one stage")
	}

	seen := make(map[int]bool, len(t.Stages))
	for _, stage := range t.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage %d: name is required", stage.StageOrder)
		}
		if seen[stage.StageOrder] {
			return fmt.Errorf("duplicate stage order %d", stage.StageOrder)
		}
		seen[stage.StageOrder] = true

		if stage.RequiredRole != "" && !stage.RequiredRole.IsValid() {
			return fmt.Errorf("stage %d: unknown role %q", stage.StageOrder, stage.RequiredRole)
		}
		for _, r := range stage.RequiresOneOf {
			if !Role(r).IsValid() {
				return fmt.Errorf("stage %d: unknown role %q", stage.StageOrder, r)
			}
		}
	}

	for order := 1; order <= len(t.Stages); order++ {
		if !seen[order] {
			return fmt.Errorf("stage orders must be contiguous starting at 1, missing %d", order)
		}
	}

	for _, r := range t.BypassUploadRoles {
		if !Role(r).IsValid() {
			return fmt.Errorf("bypassUploadRoles: unknown role %q", r)
		}
	}

	return nil
}
