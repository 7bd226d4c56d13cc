package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"workflow-service/internal/events"
	"workflow-service/internal/models"
	"workflow-service/internal/repository"
	"workflow-service/internal/sequence"
)

var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrStageNotFound      = errors.New("stage not found")
	ErrTemplateNotFound   = errors.New("workflow template not found")
	ErrForbidden          = errors.New("actor is not authorized for this action")
	ErrPreconditionFailed = errors.New("workflow state does not allow this action")
	ErrValidation         = errors.New("validation failed")
	ErrMissingUpload      = errors.New("required supporting file has not been uploaded")
)

// WorkflowService owns the authoritative state machine for workflow
// instances. All mutating operations are serialized per workflow through
// guarded status updates inside a transaction: either the full transition
// commits or nothing does.
type WorkflowService struct {
	repo      repository.WorkflowRepositoryInterface
	allocator *sequence.Allocator
	publisher *events.Publisher
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(repo repository.WorkflowRepositoryInterface, allocator *sequence.Allocator, publisher *events.Publisher) *WorkflowService {
	return &WorkflowService{
		repo:      repo,
		allocator: allocator,
		publisher: publisher,
	}
}

// CreateWorkflowInput carries the fields for creating a workflow instance
type CreateWorkflowInput struct {
	WorkflowType    string   `json:"workflowType" binding:"required"`
	TemplateID      string   `json:"templateId,omitempty"`
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description,omitempty"`
	EstimatedAmount *float64 `json:"estimatedAmount,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Submit          bool     `json:"submit,omitempty"`
}

// CreateWorkflow materializes a workflow instance from a template: the
// header gets a freshly allocated workflow number and the template's stage
// definitions are cloned into StageInstance rows (snapshot semantics, later
// template edits never reshape an instance in flight). When no template is
// named, the active default for the workflow type is used. With input.Submit
// the instance is created and submitted in one call.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, actor models.Identity, input CreateWorkflowInput) (*models.WorkflowInstance, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	template, err := s.resolveTemplate(ctx, input)
	if err != nil {
		return nil, err
	}

	_, number, err := s.allocator.Allocate(ctx, template.WorkflowType, time.Now())
	if err != nil {
		return nil, err
	}

	status := models.WorkflowStatusDraft
	if input.Submit {
		status = models.WorkflowStatusInProgress
	}

	workflow := &models.WorkflowInstance{
		WorkflowNumber:    number,
		WorkflowType:      template.WorkflowType,
		TemplateID:        &template.ID,
		Title:             input.Title,
		Description:       input.Description,
		Department:        actor.Department,
		RequesterID:       actor.ID,
		RequesterEmail:    actor.Email,
		EstimatedAmount:   input.EstimatedAmount,
		Currency:          input.Currency,
		BypassUploadRoles: template.BypassUploadRoles,
		Status:            status,
	}

	stages := make([]models.StageInstance, 0, len(template.Stages))
	for _, def := range template.Stages {
		stage := models.StageInstance{
			StageOrder:           def.StageOrder,
			StageName:            def.Name,
			Description:          def.Description,
			Department:           def.Department,
			RequiredRole:         def.RequiredRole,
			RequiresOneOf:        def.RequiresOneOf,
			ApprovalRequired:     def.ApprovalRequired,
			FileUploadRequired:   def.FileUploadRequired,
			NotifyEmails:         def.NotifyEmails,
			VisibleToDepartments: def.VisibleToDepartments,
			Status:               models.StageStatusPending,
		}
		if input.Submit && def.StageOrder == 1 {
			stage.Status = models.StageStatusInProgress
		}
		stages = append(stages, stage)
	}

	if err := s.repo.CreateWorkflow(ctx, workflow, stages); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditWorkflowCreated, map[string]interface{}{
		"workflowNumber": workflow.WorkflowNumber,
		"workflowType":   workflow.WorkflowType,
		"templateId":     template.ID.String(),
		"stageCount":     len(stages),
	})

	if input.Submit {
		s.audit(ctx, workflow.ID, &actor, models.AuditWorkflowSubmitted, nil)
		s.publishWorkflowEvent(events.SubjectWorkflowSubmitted, workflow, nil, actor, "")
	}

	return workflow, nil
}

func (s *WorkflowService) resolveTemplate(ctx context.Context, input CreateWorkflowInput) (*models.WorkflowTemplate, error) {
	if input.TemplateID != "" {
		templateID, err := uuid.Parse(input.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid templateId", ErrValidation)
		}
		template, err := s.repo.GetTemplateByID(ctx, templateID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrTemplateNotFound
			}
			return nil, err
		}
		if !template.IsActive {
			return nil, fmt.Errorf("%w: template is inactive", ErrValidation)
		}
		return template, nil
	}

	template, err := s.repo.GetDefaultTemplate(ctx, input.WorkflowType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return template, nil
}

// Submit moves a draft workflow into progress and activates stage #1.
// Only the requester (or admin) may submit; after submission ownership of
// state transitions passes to the stage engine.
func (s *WorkflowService) Submit(ctx context.Context, workflowID uuid.UUID, actor models.Identity) (*models.WorkflowInstance, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}

	var workflow *models.WorkflowInstance
	err := s.repo.WithTransaction(ctx, func(tx repository.WorkflowRepositoryInterface) error {
		var err error
		workflow, err = tx.GetWorkflowByID(ctx, workflowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWorkflowNotFound
			}
			return err
		}

		if actor.ID != workflow.RequesterID && actor.Role != models.RoleAdmin {
			return ErrForbidden
		}
		if workflow.Status != models.WorkflowStatusDraft {
			return ErrPreconditionFailed
		}

		first, err := tx.GetStageByOrder(ctx, workflow.ID, 1)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrStageNotFound
			}
			return err
		}

		if err := tx.UpdateWorkflowStatus(ctx, workflow.ID, models.WorkflowStatusDraft, models.WorkflowStatusInProgress); err != nil {
			return mapConflict(err)
		}
		if err := tx.UpdateStageStatus(ctx, first.ID, models.StageStatusPending, models.StageStatusInProgress); err != nil {
			return mapConflict(err)
		}
		workflow.Status = models.WorkflowStatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditWorkflowSubmitted, nil)
	s.publishWorkflowEvent(events.SubjectWorkflowSubmitted, workflow, nil, actor, "")

	return workflow, nil
}

// Approve records an approval on the active stage, completes it and
// activates the next pending stage, or completes the workflow when the last
// stage is approved. Stage completion and workflow completion commit in the
// same transaction, so no intermediate state is ever observable.
func (s *WorkflowService) Approve(ctx context.Context, workflowID, stageID uuid.UUID, actor models.Identity, comments string) (*models.WorkflowInstance, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}

	var workflow *models.WorkflowInstance
	var stage *models.StageInstance
	var completed bool

	err := s.repo.WithTransaction(ctx, func(tx repository.WorkflowRepositoryInterface) error {
		var err error
		workflow, stage, err = s.loadActionTarget(ctx, tx, workflowID, stageID)
		if err != nil {
			return err
		}

		if !isAuthorized(stage, workflow, actor) {
			return ErrForbidden
		}

		// Cascading-rejection guard: checked against stage rows, not just
		// the workflow status flag, to survive partial-failure replay.
		rejected, err := tx.CountRejectedStagesBefore(ctx, workflow.ID, stage.StageOrder)
		if err != nil {
			return err
		}
		if rejected > 0 {
			return ErrPreconditionFailed
		}

		if stage.FileUploadRequired && !canBypassUpload(workflow, actor) {
			has, err := tx.HasStageFile(ctx, workflow.ID, stage.ID, actor.ID)
			if err != nil {
				return err
			}
			if !has {
				return ErrMissingUpload
			}
		}

		if err := tx.UpdateStageStatus(ctx, stage.ID, models.StageStatusInProgress, models.StageStatusCompleted); err != nil {
			return mapConflict(err)
		}

		approval := &models.Approval{
			WorkflowID:   workflow.ID,
			StageID:      stage.ID,
			ApproverID:   actor.ID,
			ApproverRole: actor.Role,
			Action:       models.ActionApproved,
			Comments:     comments,
		}
		if err := tx.CreateApproval(ctx, approval); err != nil {
			return fmt.Errorf("failed to record approval: %w", err)
		}

		next, err := tx.GetStageByOrder(ctx, workflow.ID, stage.StageOrder+1)
		switch {
		case err == nil:
			if err := tx.UpdateStageStatus(ctx, next.ID, models.StageStatusPending, models.StageStatusInProgress); err != nil {
				return mapConflict(err)
			}
		case errors.Is(err, repository.ErrNotFound):
			if err := tx.UpdateWorkflowStatus(ctx, workflow.ID, models.WorkflowStatusInProgress, models.WorkflowStatusCompleted); err != nil {
				return mapConflict(err)
			}
			workflow.Status = models.WorkflowStatusCompleted
			completed = true
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditStageApproved, map[string]interface{}{
		"stageId":    stage.ID.String(),
		"stageName":  stage.StageName,
		"stageOrder": stage.StageOrder,
		"comments":   comments,
	})
	s.publishWorkflowEvent(events.SubjectStageApproved, workflow, stage, actor, comments)
	if completed {
		s.audit(ctx, workflow.ID, &actor, models.AuditWorkflowCompleted, nil)
		s.publishWorkflowEvent(events.SubjectWorkflowCompleted, workflow, stage, actor, "")
	}

	return workflow, nil
}

// Reject records a rejection on the active stage and terminates the whole
// workflow. There is no automatic re-open; a new workflow must be created to
// retry. Comments are mandatory.
func (s *WorkflowService) Reject(ctx context.Context, workflowID, stageID uuid.UUID, actor models.Identity, comments string) (*models.WorkflowInstance, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(comments) == "" {
		return nil, fmt.Errorf("%w: comments are required for rejection", ErrValidation)
	}

	var workflow *models.WorkflowInstance
	var stage *models.StageInstance

	err := s.repo.WithTransaction(ctx, func(tx repository.WorkflowRepositoryInterface) error {
		var err error
		workflow, stage, err = s.loadActionTarget(ctx, tx, workflowID, stageID)
		if err != nil {
			return err
		}

		if !isAuthorized(stage, workflow, actor) {
			return ErrForbidden
		}

		if err := tx.UpdateStageStatus(ctx, stage.ID, models.StageStatusInProgress, models.StageStatusRejected); err != nil {
			return mapConflict(err)
		}

		approval := &models.Approval{
			WorkflowID:   workflow.ID,
			StageID:      stage.ID,
			ApproverID:   actor.ID,
			ApproverRole: actor.Role,
			Action:       models.ActionRejected,
			Comments:     comments,
		}
		if err := tx.CreateApproval(ctx, approval); err != nil {
			return fmt.Errorf("failed to record rejection: %w", err)
		}

		if err := tx.UpdateWorkflowStatus(ctx, workflow.ID, models.WorkflowStatusInProgress, models.WorkflowStatusRejected); err != nil {
			return mapConflict(err)
		}
		workflow.Status = models.WorkflowStatusRejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditStageRejected, map[string]interface{}{
		"stageId":    stage.ID.String(),
		"stageName":  stage.StageName,
		"stageOrder": stage.StageOrder,
		"comments":   comments,
	})
	s.publishWorkflowEvent(events.SubjectStageRejected, workflow, stage, actor, comments)

	return workflow, nil
}

// Cancel terminates a draft or in-progress workflow at the requester's (or
// admin's) initiative. The active stage, if any, reverts to pending so the
// single-active-stage invariant keeps holding for cancelled instances.
func (s *WorkflowService) Cancel(ctx context.Context, workflowID uuid.UUID, actor models.Identity) (*models.WorkflowInstance, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}

	var workflow *models.WorkflowInstance
	err := s.repo.WithTransaction(ctx, func(tx repository.WorkflowRepositoryInterface) error {
		var err error
		workflow, err = tx.GetWorkflowByID(ctx, workflowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWorkflowNotFound
			}
			return err
		}

		if actor.ID != workflow.RequesterID && actor.Role != models.RoleAdmin {
			return ErrForbidden
		}
		if workflow.Status != models.WorkflowStatusDraft && workflow.Status != models.WorkflowStatusInProgress {
			return ErrPreconditionFailed
		}

		fromStatus := workflow.Status
		if err := tx.UpdateWorkflowStatus(ctx, workflow.ID, fromStatus, models.WorkflowStatusCancelled); err != nil {
			return mapConflict(err)
		}

		stages, err := tx.ListStages(ctx, workflow.ID)
		if err != nil {
			return err
		}
		for _, stage := range stages {
			if stage.Status == models.StageStatusInProgress {
				if err := tx.UpdateStageStatus(ctx, stage.ID, models.StageStatusInProgress, models.StageStatusPending); err != nil {
					return mapConflict(err)
				}
			}
		}
		workflow.Status = models.WorkflowStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditWorkflowCancelled, nil)
	s.publishWorkflowEvent(events.SubjectWorkflowCancelled, workflow, nil, actor, "")

	return workflow, nil
}

// loadActionTarget fetches the workflow and stage and checks the shared
// approve/reject preconditions.
func (s *WorkflowService) loadActionTarget(ctx context.Context, tx repository.WorkflowRepositoryInterface, workflowID, stageID uuid.UUID) (*models.WorkflowInstance, *models.StageInstance, error) {
	workflow, err := tx.GetWorkflowByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrWorkflowNotFound
		}
		return nil, nil, err
	}

	stage, err := tx.GetStageByID(ctx, stageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrStageNotFound
		}
		return nil, nil, err
	}
	if stage.WorkflowID != workflow.ID {
		return nil, nil, ErrStageNotFound
	}

	if workflow.Status != models.WorkflowStatusInProgress {
		return nil, nil, ErrPreconditionFailed
	}
	if stage.Status != models.StageStatusInProgress {
		return nil, nil, ErrPreconditionFailed
	}

	return workflow, stage, nil
}

// --- Read operations ---

// WorkflowDetail bundles a workflow with the stages the viewer may see and
// the approvals recorded so far.
type WorkflowDetail struct {
	Workflow  *models.WorkflowInstance `json:"workflow"`
	Stages    []models.StageInstance   `json:"stages"`
	Approvals []models.Approval        `json:"approvals"`
}

// GetWorkflow retrieves a workflow with its stages filtered through the
// visibility projection for the viewer.
func (s *WorkflowService) GetWorkflow(ctx context.Context, workflowID uuid.UUID, viewer models.Identity) (*WorkflowDetail, error) {
	workflow, err := s.repo.GetWorkflowByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}

	stages, err := s.repo.ListStages(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	approvals, err := s.repo.ListApprovals(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	return &WorkflowDetail{
		Workflow:  workflow,
		Stages:    VisibleStages(workflow, stages, viewer),
		Approvals: approvals,
	}, nil
}

// ListMyWorkflows lists workflows requested by the viewer
func (s *WorkflowService) ListMyWorkflows(ctx context.Context, viewer models.Identity, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	return s.repo.ListWorkflowsByRequester(ctx, viewer.ID, limit, offset)
}

// ListPendingForRole lists in-progress workflows waiting on the viewer's role
func (s *WorkflowService) ListPendingForRole(ctx context.Context, viewer models.Identity, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	return s.repo.ListWorkflowsPendingForRole(ctx, viewer.Role, limit, offset)
}

// GetAuditTrail retrieves the append-only audit trail for a workflow
func (s *WorkflowService) GetAuditTrail(ctx context.Context, workflowID uuid.UUID) ([]models.AuditLog, error) {
	if _, err := s.repo.GetWorkflowByID(ctx, workflowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, workflowID)
}

// --- Files ---

// RegisterFileInput carries attached-file metadata. Bytes live in the
// external file store; only the reference is recorded here.
type RegisterFileInput struct {
	StageID    string `json:"stageId,omitempty"`
	FileName   string `json:"fileName" binding:"required"`
	StorageRef string `json:"storageRef" binding:"required"`
}

// RegisterFile records file metadata against a workflow (and optionally a
// stage). Terminal workflows no longer accept files.
func (s *WorkflowService) RegisterFile(ctx context.Context, workflowID uuid.UUID, actor models.Identity, input RegisterFileInput) (*models.AttachedFile, error) {
	if !actor.IsActive {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(input.FileName) == "" || strings.TrimSpace(input.StorageRef) == "" {
		return nil, fmt.Errorf("%w: fileName and storageRef are required", ErrValidation)
	}

	workflow, err := s.repo.GetWorkflowByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	if workflow.IsTerminal() {
		return nil, ErrPreconditionFailed
	}

	var stageID *uuid.UUID
	if input.StageID != "" {
		parsed, err := uuid.Parse(input.StageID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid stageId", ErrValidation)
		}
		stage, err := s.repo.GetStageByID(ctx, parsed)
		if err != nil || stage.WorkflowID != workflow.ID {
			return nil, ErrStageNotFound
		}
		stageID = &parsed
	}

	file := &models.AttachedFile{
		WorkflowID: workflow.ID,
		StageID:    stageID,
		FileName:   input.FileName,
		StorageRef: input.StorageRef,
		UploadedBy: actor.ID,
	}
	if err := s.repo.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to register file: %w", err)
	}

	s.audit(ctx, workflow.ID, &actor, models.AuditFileAttached, map[string]interface{}{
		"fileName": file.FileName,
		"stageId":  input.StageID,
	})

	return file, nil
}

// ListFiles retrieves file metadata for a workflow, optionally per stage
func (s *WorkflowService) ListFiles(ctx context.Context, workflowID uuid.UUID, stageID *uuid.UUID) ([]models.AttachedFile, error) {
	return s.repo.ListFiles(ctx, workflowID, stageID)
}

// --- Sequence administration ---

// ResetSequence zeroes a sequence counter. Admin only; always audited.
func (s *WorkflowService) ResetSequence(ctx context.Context, actor models.Identity, sequenceType string, date time.Time) error {
	if !actor.IsActive || actor.Role != models.RoleAdmin {
		return ErrForbidden
	}
	if err := s.allocator.Reset(ctx, sequenceType, date); err != nil {
		return err
	}
	s.audit(ctx, uuid.Nil, &actor, models.AuditSequenceReset, map[string]interface{}{
		"sequenceType": sequenceType,
		"sequenceDate": date.Format("2006-01-02"),
	})
	return nil
}

// --- Helpers ---

// mapConflict turns a lost optimistic-concurrency race into the caller-facing
// precondition error: refetch state and retry.
func mapConflict(err error) error {
	if errors.Is(err, repository.ErrStageConflict) {
		return ErrPreconditionFailed
	}
	return err
}

func (s *WorkflowService) audit(ctx context.Context, workflowID uuid.UUID, actor *models.Identity, action string, details map[string]interface{}) {
	detailsJSON, _ := json.Marshal(details)

	log := &models.AuditLog{
		WorkflowID: workflowID,
		Action:     action,
		Details:    datatypes.JSON(detailsJSON),
	}
	if actor != nil {
		actorID := actor.ID
		log.ActorID = &actorID
		log.ActorRole = actor.Role
	}

	_ = s.repo.CreateAuditLog(ctx, log)
}

func (s *WorkflowService) publishWorkflowEvent(subject string, workflow *models.WorkflowInstance, stage *models.StageInstance, actor models.Identity, comments string) {
	if s.publisher == nil {
		return
	}

	event := events.WorkflowEvent{
		EventType:      subject,
		WorkflowID:     workflow.ID.String(),
		WorkflowNumber: workflow.WorkflowNumber,
		WorkflowType:   workflow.WorkflowType,
		Status:         workflow.Status,
		ActorID:        actor.ID.String(),
		ActorRole:      string(actor.Role),
		Comments:       comments,
	}
	if stage != nil {
		event.StageID = stage.ID.String()
		event.StageName = stage.StageName
		event.StageOrder = stage.StageOrder
		event.NotifyEmails = stage.NotifyEmails
	}

	s.publisher.Publish(subject, event)
}
