package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"workflow-service/internal/models"
	"workflow-service/internal/repository"
)

// TemplateService manages workflow templates. Authoring invariants (stage
// order contiguity and uniqueness) are enforced at save time; instances
// already created from a template are never reshaped by later edits.
type TemplateService struct {
	repo repository.WorkflowRepositoryInterface
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(repo repository.WorkflowRepositoryInterface) *TemplateService {
	return &TemplateService{repo: repo}
}

// TemplateStageInput is one stage definition in a template create/update
type TemplateStageInput struct {
	StageOrder           int      `json:"stageOrder" binding:"required"`
	Name                 string   `json:"name" binding:"required"`
	Description          string   `json:"description,omitempty"`
	Department           string   `json:"department,omitempty"`
	RequiredRole         string   `json:"requiredRole,omitempty"`
	RequiresOneOf        []string `json:"requiresOneOf,omitempty"`
	ApprovalRequired     *bool    `json:"approvalRequired,omitempty"`
	FileUploadRequired   bool     `json:"fileUploadRequired,omitempty"`
	NotifyEmails         []string `json:"notifyEmails,omitempty"`
	VisibleToDepartments []string `json:"visibleToDepartments,omitempty"`
	ApprovalThreshold    *float64 `json:"approvalThreshold,omitempty"`
}

// TemplateInput carries the fields for creating or updating a template
type TemplateInput struct {
	WorkflowType      string               `json:"workflowType" binding:"required"`
	Name              string               `json:"name" binding:"required"`
	Description       string               `json:"description,omitempty"`
	BypassUploadRoles []string             `json:"bypassUploadRoles,omitempty"`
	IsActive          *bool                `json:"isActive,omitempty"`
	IsDefault         bool                 `json:"isDefault,omitempty"`
	Stages            []TemplateStageInput `json:"stages" binding:"required"`
}

func (input TemplateInput) toModel() *models.WorkflowTemplate {
	template := &models.WorkflowTemplate{
		WorkflowType:      input.WorkflowType,
		Name:              input.Name,
		Description:       input.Description,
		BypassUploadRoles: input.BypassUploadRoles,
		IsActive:          true,
		IsDefault:         input.IsDefault,
	}
	if input.IsActive != nil {
		template.IsActive = *input.IsActive
	}

	for _, stage := range input.Stages {
		approvalRequired := true
		if stage.ApprovalRequired != nil {
			approvalRequired = *stage.ApprovalRequired
		}
		template.Stages = append(template.Stages, models.StageDefinition{
			StageOrder:           stage.StageOrder,
			Name:                 stage.Name,
			Description:          stage.Description,
			Department:           stage.Department,
			RequiredRole:         models.Role(stage.RequiredRole),
			RequiresOneOf:        stage.RequiresOneOf,
			ApprovalRequired:     approvalRequired,
			FileUploadRequired:   stage.FileUploadRequired,
			NotifyEmails:         stage.NotifyEmails,
			VisibleToDepartments: stage.VisibleToDepartments,
			ApprovalThreshold:    stage.ApprovalThreshold,
		})
	}
	return template
}

// CreateTemplate validates and stores a new template. Admin only.
func (s *TemplateService) CreateTemplate(ctx context.Context, actor models.Identity, input TemplateInput) (*models.WorkflowTemplate, error) {
	if !actor.IsActive || actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}

	template := input.toModel()
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.repo.CreateTemplate(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return template, nil
}

// UpdateTemplate validates and replaces a template's definition. Workflows
// already instantiated keep their stage snapshots.
func (s *TemplateService) UpdateTemplate(ctx context.Context, actor models.Identity, templateID uuid.UUID, input TemplateInput) (*models.WorkflowTemplate, error) {
	if !actor.IsActive || actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}

	existing, err := s.repo.GetTemplateByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	template := input.toModel()
	template.ID = existing.ID
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.repo.UpdateTemplate(ctx, template); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return template, nil
}

// GetTemplate retrieves a template by ID
func (s *TemplateService) GetTemplate(ctx context.Context, templateID uuid.UUID) (*models.WorkflowTemplate, error) {
	template, err := s.repo.GetTemplateByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return template, nil
}

// ListTemplates retrieves templates, optionally only active ones
func (s *TemplateService) ListTemplates(ctx context.Context, activeOnly bool) ([]models.WorkflowTemplate, error) {
	return s.repo.ListTemplates(ctx, activeOnly)
}
