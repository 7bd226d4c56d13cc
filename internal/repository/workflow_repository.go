package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"workflow-service/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStageConflict = errors.New("stage conflict - record was modified by another request")
)

// WorkflowRepositoryInterface abstracts persistence so the stage engine can
// be tested without a database.
type WorkflowRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo WorkflowRepositoryInterface) error) error

	// Templates
	CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	UpdateTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	GetTemplateByID(ctx context.Context, id uuid.UUID) (*models.WorkflowTemplate, error)
	GetDefaultTemplate(ctx context.Context, workflowType string) (*models.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]models.WorkflowTemplate, error)

	// Workflows
	CreateWorkflow(ctx context.Context, workflow *models.WorkflowInstance, stages []models.StageInstance) error
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error)
	UpdateWorkflowStatus(ctx context.Context, workflowID uuid.UUID, fromStatus, toStatus string) error
	ListWorkflowsByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.WorkflowInstance, int64, error)
	ListWorkflowsPendingForRole(ctx context.Context, role models.Role, limit, offset int) ([]models.WorkflowInstance, int64, error)

	// Stages
	GetStageByID(ctx context.Context, id uuid.UUID) (*models.StageInstance, error)
	GetStageByOrder(ctx context.Context, workflowID uuid.UUID, order int) (*models.StageInstance, error)
	ListStages(ctx context.Context, workflowID uuid.UUID) ([]models.StageInstance, error)
	UpdateStageStatus(ctx context.Context, stageID uuid.UUID, fromStatus, toStatus string) error
	CountRejectedStagesBefore(ctx context.Context, workflowID uuid.UUID, order int) (int64, error)
	FindStaleInProgressStages(ctx context.Context, olderThan time.Time) ([]models.StageInstance, error)
	UpdateStageLastReminded(ctx context.Context, stageID uuid.UUID, at time.Time) error

	// Approvals
	CreateApproval(ctx context.Context, approval *models.Approval) error
	ListApprovals(ctx context.Context, workflowID uuid.UUID) ([]models.Approval, error)

	// Audit trail
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, workflowID uuid.UUID) ([]models.AuditLog, error)

	// Files
	CreateFile(ctx context.Context, file *models.AttachedFile) error
	ListFiles(ctx context.Context, workflowID uuid.UUID, stageID *uuid.UUID) ([]models.AttachedFile, error)
	HasStageFile(ctx context.Context, workflowID, stageID, uploaderID uuid.UUID) (bool, error)

	// Sequence counters
	AllocateSequence(ctx context.Context, sequenceType, sequenceDate string) (int, error)
	ResetSequence(ctx context.Context, sequenceType, sequenceDate string) error
}

// WorkflowRepository handles database operations for workflows
type WorkflowRepository struct {
	db *gorm.DB
}

var _ WorkflowRepositoryInterface = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a new WorkflowRepository
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// WithTransaction runs fn inside a database transaction. The callback
// receives a repository bound to the transaction; any error rolls back.
func (r *WorkflowRepository) WithTransaction(ctx context.Context, fn func(txRepo WorkflowRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&WorkflowRepository{db: tx})
	})
}

// --- Template Methods ---

// CreateTemplate creates a template together with its stage definitions.
func (r *WorkflowRepository) CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	return r.db.WithContext(ctx).Create(template).Error
}

// UpdateTemplate replaces a template's metadata and stage definitions.
// Existing workflow instances keep their snapshots and are unaffected.
func (r *WorkflowRepository) UpdateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WorkflowTemplate{}).
			Where("id = ?", template.ID).
			Updates(map[string]interface{}{
				"name":                template.Name,
				"description":         template.Description,
				"bypass_upload_roles": template.BypassUploadRoles,
				"is_active":           template.IsActive,
				"is_default":          template.IsDefault,
				"updated_at":          time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("template_id = ?", template.ID).Delete(&models.StageDefinition{}).Error; err != nil {
			return err
		}
		for i := range template.Stages {
			template.Stages[i].ID = uuid.Nil
			template.Stages[i].TemplateID = template.ID
		}
		return tx.Create(&template.Stages).Error
	})
}

// GetTemplateByID retrieves a template with its ordered stage definitions
func (r *WorkflowRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("stage_order ASC")
		}).
		Where("id = ?", id).
		First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &template, nil
}

// GetDefaultTemplate retrieves the active default template for a workflow type
func (r *WorkflowRepository) GetDefaultTemplate(ctx context.Context, workflowType string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("stage_order ASC")
		}).
		Where("workflow_type = ? AND is_default = true AND is_active = true", workflowType).
		First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &template, nil
}

// ListTemplates retrieves templates, optionally only active ones
func (r *WorkflowRepository) ListTemplates(ctx context.Context, activeOnly bool) ([]models.WorkflowTemplate, error) {
	var templates []models.WorkflowTemplate
	query := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("stage_order ASC")
		}).
		Order("workflow_type ASC, created_at DESC")
	if activeOnly {
		query = query.Where("is_active = true")
	}
	err := query.Find(&templates).Error
	return templates, err
}

// --- Workflow Methods ---

// CreateWorkflow inserts the workflow header and its stage snapshot in one
// transaction so a half-created instance is never observable.
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, workflow *models.WorkflowInstance, stages []models.StageInstance) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(workflow).Error; err != nil {
			return err
		}
		for i := range stages {
			stages[i].WorkflowID = workflow.ID
		}
		return tx.Create(&stages).Error
	})
}

// GetWorkflowByID retrieves a workflow by ID
func (r *WorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	var workflow models.WorkflowInstance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &workflow, nil
}

// UpdateWorkflowStatus transitions the workflow status with the current
// status as an optimistic-concurrency guard. A lost race surfaces as
// ErrStageConflict and the caller must refetch.
func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, workflowID uuid.UUID, fromStatus, toStatus string) error {
	result := r.db.WithContext(ctx).Model(&models.WorkflowInstance{}).
		Where("id = ? AND status = ?", workflowID, fromStatus).
		Updates(map[string]interface{}{
			"status":     toStatus,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// ListWorkflowsByRequester retrieves workflows submitted by a specific user
func (r *WorkflowRepository) ListWorkflowsByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	var workflows []models.WorkflowInstance
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WorkflowInstance{}).
		Where("requester_id = ?", requesterID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&workflows).Error
	return workflows, total, err
}

// ListWorkflowsPendingForRole retrieves in-progress workflows whose active
// stage is waiting on the given role.
func (r *WorkflowRepository) ListWorkflowsPendingForRole(ctx context.Context, role models.Role, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	var workflows []models.WorkflowInstance
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WorkflowInstance{}).
		Where("status = ?", models.WorkflowStatusInProgress).
		Where(`id IN (
			SELECT workflow_id FROM stage_instances
			WHERE status = ? AND (required_role = ? OR ? = ANY(requires_one_of))
		)`, models.StageStatusInProgress, role, role)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&workflows).Error
	return workflows, total, err
}

// --- Stage Methods ---

// GetStageByID retrieves a stage instance by ID
func (r *WorkflowRepository) GetStageByID(ctx context.Context, id uuid.UUID) (*models.StageInstance, error) {
	var stage models.StageInstance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stage, nil
}

// GetStageByOrder retrieves the stage at a given order within a workflow
func (r *WorkflowRepository) GetStageByOrder(ctx context.Context, workflowID uuid.UUID, order int) (*models.StageInstance, error) {
	var stage models.StageInstance
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND stage_order = ?", workflowID, order).
		First(&stage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stage, nil
}

// ListStages retrieves all stages of a workflow in order
func (r *WorkflowRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]models.StageInstance, error) {
	var stages []models.StageInstance
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("stage_order ASC").
		Find(&stages).Error
	return stages, err
}

// UpdateStageStatus transitions a stage with its current status as guard.
// Concurrent transitions on the same stage resolve to exactly one winner;
// losers get ErrStageConflict.
func (r *WorkflowRepository) UpdateStageStatus(ctx context.Context, stageID uuid.UUID, fromStatus, toStatus string) error {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	if toStatus == models.StageStatusCompleted || toStatus == models.StageStatusRejected {
		updates["completed_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&models.StageInstance{}).
		Where("id = ? AND status = ?", stageID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// CountRejectedStagesBefore counts rejected stages at or before the given
// order. The stage engine checks this directly against stage rows rather
// than trusting the workflow status flag, to defend against partial-failure
// replay.
func (r *WorkflowRepository) CountRejectedStagesBefore(ctx context.Context, workflowID uuid.UUID, order int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StageInstance{}).
		Where("workflow_id = ? AND stage_order <= ? AND status = ?", workflowID, order, models.StageStatusRejected).
		Count(&count).Error
	return count, err
}

// FindStaleInProgressStages finds active stages that have been waiting since
// before olderThan and have not been reminded since then either.
func (r *WorkflowRepository) FindStaleInProgressStages(ctx context.Context, olderThan time.Time) ([]models.StageInstance, error) {
	var stages []models.StageInstance
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StageStatusInProgress, olderThan).
		Where("last_reminded_at IS NULL OR last_reminded_at < ?", olderThan).
		Find(&stages).Error
	return stages, err
}

// UpdateStageLastReminded records when a reminder was last sent for a stage
func (r *WorkflowRepository) UpdateStageLastReminded(ctx context.Context, stageID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.StageInstance{}).
		Where("id = ?", stageID).
		Update("last_reminded_at", at).Error
}

// --- Approval Methods ---

// CreateApproval appends an approval fact
func (r *WorkflowRepository) CreateApproval(ctx context.Context, approval *models.Approval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

// ListApprovals retrieves all approvals recorded for a workflow
func (r *WorkflowRepository) ListApprovals(ctx context.Context, workflowID uuid.UUID) ([]models.Approval, error) {
	var approvals []models.Approval
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&approvals).Error
	return approvals, err
}

// --- Audit Methods ---

// CreateAuditLog appends an audit trail entry
func (r *WorkflowRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListAuditLogs retrieves the audit trail for a workflow
func (r *WorkflowRepository) ListAuditLogs(ctx context.Context, workflowID uuid.UUID) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// --- File Methods ---

// CreateFile records attached-file metadata
func (r *WorkflowRepository) CreateFile(ctx context.Context, file *models.AttachedFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

// ListFiles retrieves file metadata for a workflow, optionally per stage
func (r *WorkflowRepository) ListFiles(ctx context.Context, workflowID uuid.UUID, stageID *uuid.UUID) ([]models.AttachedFile, error) {
	var files []models.AttachedFile
	query := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID)
	if stageID != nil {
		query = query.Where("stage_id = ?", *stageID)
	}
	err := query.Order("uploaded_at ASC").Find(&files).Error
	return files, err
}

// HasStageFile reports whether the uploader has attached at least one file
// to the given stage. Used by the approve gate for fileUploadRequired stages.
func (r *WorkflowRepository) HasStageFile(ctx context.Context, workflowID, stageID, uploaderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AttachedFile{}).
		Where("workflow_id = ? AND stage_id = ? AND uploaded_by = ?", workflowID, stageID, uploaderID).
		Count(&count).Error
	return count > 0, err
}

// --- Sequence Methods ---

// AllocateSequence atomically increments and returns the counter for
// (type, date), creating the row at 1 if absent. The single-statement upsert
// guarantees two concurrent callers never receive the same value.
func (r *WorkflowRepository) AllocateSequence(ctx context.Context, sequenceType, sequenceDate string) (int, error) {
	var counter int
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO sequence_counters (sequence_type, sequence_date, current_counter)
		VALUES (?, ?, 1)
		ON CONFLICT (sequence_type, sequence_date)
		DO UPDATE SET current_counter = sequence_counters.current_counter + 1
		RETURNING current_counter
	`, sequenceType, sequenceDate).Scan(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter, nil
}

// ResetSequence sets a counter back to zero. Operational recovery only.
func (r *WorkflowRepository) ResetSequence(ctx context.Context, sequenceType, sequenceDate string) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO sequence_counters (sequence_type, sequence_date, current_counter)
		VALUES (?, ?, 0)
		ON CONFLICT (sequence_type, sequence_date)
		DO UPDATE SET current_counter = 0
	`, sequenceType, sequenceDate).Error
}
