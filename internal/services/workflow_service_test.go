package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workflow-service/internal/models"
	"workflow-service/internal/repository"
	"workflow-service/internal/sequence"
)

// MockWorkflowRepository is a testify mock of the repository interface
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.WorkflowRepositoryInterface) error) error {
	return fn(m)
}

func (m *MockWorkflowRepository) CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockWorkflowRepository) UpdateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockWorkflowRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*models.WorkflowTemplate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowTemplate), args.Error(1)
}

func (m *MockWorkflowRepository) GetDefaultTemplate(ctx context.Context, workflowType string) (*models.WorkflowTemplate, error) {
	args := m.Called(ctx, workflowType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowTemplate), args.Error(1)
}

func (m *MockWorkflowRepository) ListTemplates(ctx context.Context, activeOnly bool) ([]models.WorkflowTemplate, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WorkflowTemplate), args.Error(1)
}

func (m *MockWorkflowRepository) CreateWorkflow(ctx context.Context, workflow *models.WorkflowInstance, stages []models.StageInstance) error {
	args := m.Called(ctx, workflow, stages)
	return args.Error(0)
}

func (m *MockWorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockWorkflowRepository) UpdateWorkflowStatus(ctx context.Context, workflowID uuid.UUID, fromStatus, toStatus string) error {
	args := m.Called(ctx, workflowID, fromStatus, toStatus)
	return args.Error(0)
}

func (m *MockWorkflowRepository) ListWorkflowsByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	args := m.Called(ctx, requesterID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.WorkflowInstance), args.Get(1).(int64), args.Error(2)
}

func (m *MockWorkflowRepository) ListWorkflowsPendingForRole(ctx context.Context, role models.Role, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	args := m.Called(ctx, role, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.WorkflowInstance), args.Get(1).(int64), args.Error(2)
}

func (m *MockWorkflowRepository) GetStageByID(ctx context.Context, id uuid.UUID) (*models.StageInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StageInstance), args.Error(1)
}

func (m *MockWorkflowRepository) GetStageByOrder(ctx context.Context, workflowID uuid.UUID, order int) (*models.StageInstance, error) {
	args := m.Called(ctx, workflowID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StageInstance), args.Error(1)
}

func (m *MockWorkflowRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]models.StageInstance, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StageInstance), args.Error(1)
}

func (m *MockWorkflowRepository) UpdateStageStatus(ctx context.Context, stageID uuid.UUID, fromStatus, toStatus string) error {
	args := m.Called(ctx, stageID, fromStatus, toStatus)
	return args.Error(0)
}

func (m *MockWorkflowRepository) CountRejectedStagesBefore(ctx context.Context, workflowID uuid.UUID, order int) (int64, error) {
	args := m.Called(ctx, workflowID, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWorkflowRepository) FindStaleInProgressStages(ctx context.Context, olderThan time.Time) ([]models.StageInstance, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StageInstance), args.Error(1)
}

func (m *MockWorkflowRepository) UpdateStageLastReminded(ctx context.Context, stageID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, stageID, at)
	return args.Error(0)
}

func (m *MockWorkflowRepository) CreateApproval(ctx context.Context, approval *models.Approval) error {
	args := m.Called(ctx, approval)
	return args.Error(0)
}

func (m *MockWorkflowRepository) ListApprovals(ctx context.Context, workflowID uuid.UUID) ([]models.Approval, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Approval), args.Error(1)
}

func (m *MockWorkflowRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockWorkflowRepository) ListAuditLogs(ctx context.Context, workflowID uuid.UUID) ([]models.AuditLog, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AuditLog), args.Error(1)
}

func (m *MockWorkflowRepository) CreateFile(ctx context.Context, file *models.AttachedFile) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

func (m *MockWorkflowRepository) ListFiles(ctx context.Context, workflowID uuid.UUID, stageID *uuid.UUID) ([]models.AttachedFile, error) {
	args := m.Called(ctx, workflowID, stageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AttachedFile), args.Error(1)
}

func (m *MockWorkflowRepository) HasStageFile(ctx context.Context, workflowID, stageID, uploaderID uuid.UUID) (bool, error) {
	args := m.Called(ctx, workflowID, stageID, uploaderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorkflowRepository) AllocateSequence(ctx context.Context, sequenceType, sequenceDate string) (int, error) {
	args := m.Called(ctx, sequenceType, sequenceDate)
	return args.Int(0), args.Error(1)
}

func (m *MockWorkflowRepository) ResetSequence(ctx context.Context, sequenceType, sequenceDate string) error {
	args := m.Called(ctx, sequenceType, sequenceDate)
	return args.Error(0)
}

var _ repository.WorkflowRepositoryInterface = (*MockWorkflowRepository)(nil)

// --- Fixtures ---

func newTestService(repo *MockWorkflowRepository) *WorkflowService {
	return NewWorkflowService(repo, sequence.NewAllocator(repo, "DOC"), nil)
}

func requester() models.Identity {
	return models.Identity{
		ID:         uuid.New(),
		Email:      "requester@example.com",
		Role:       models.RolePPIC,
		Department: "ppic",
		IsActive:   true,
	}
}

func mafTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:           uuid.New(),
		WorkflowType: models.WorkflowTypeMAF,
		Name:         "Material Approval Form",
		IsActive:     true,
		IsDefault:    true,
		Stages: []models.StageDefinition{
			{StageOrder: 1, Name: "PPIC Review", RequiredRole: models.RolePPIC},
			{StageOrder: 2, Name: "Purchasing Review", RequiredRole: models.RolePurchasing},
			{StageOrder: 3, Name: "COO Approval", RequiredRole: models.RoleCOO},
		},
	}
}

// inProgressFixture returns a workflow with its second stage active.
func inProgressFixture(requesterID uuid.UUID) (*models.WorkflowInstance, *models.StageInstance) {
	workflowID := uuid.New()
	workflow := &models.WorkflowInstance{
		ID:             workflowID,
		WorkflowNumber: "DOC-MAF-260823-001",
		WorkflowType:   models.WorkflowTypeMAF,
		RequesterID:    requesterID,
		Status:         models.WorkflowStatusInProgress,
	}
	stage := &models.StageInstance{
		ID:           uuid.New(),
		WorkflowID:   workflowID,
		StageOrder:   2,
		StageName:    "Purchasing Review",
		RequiredRole: models.RolePurchasing,
		Status:       models.StageStatusInProgress,
	}
	return workflow, stage
}

// --- CreateWorkflow ---

func TestCreateWorkflow_DraftFromDefaultTemplate(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()
	template := mafTemplate()

	repo.On("GetDefaultTemplate", mock.Anything, models.WorkflowTypeMAF).Return(template, nil)
	repo.On("AllocateSequence", mock.Anything, models.WorkflowTypeMAF, mock.Anything).Return(7, nil)
	repo.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	workflow, err := service.CreateWorkflow(context.Background(), actor, CreateWorkflowInput{
		WorkflowType: models.WorkflowTypeMAF,
		Title:        "Raw material restock",
	})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Equal(t, actor.ID, workflow.RequesterID)
	assert.Equal(t, actor.Department, workflow.Department)
	assert.Contains(t, workflow.WorkflowNumber, "DOC-MAF-")
	assert.Contains(t, workflow.WorkflowNumber, "-007")

	createCall := repo.Calls[2]
	stages := createCall.Arguments.Get(2).([]models.StageInstance)
	require.Len(t, stages, 3)
	for _, stage := range stages {
		assert.Equal(t, models.StageStatusPending, stage.Status)
	}
	repo.AssertExpectations(t)
}

func TestCreateWorkflow_SubmitActivatesFirstStage(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()
	template := mafTemplate()

	repo.On("GetDefaultTemplate", mock.Anything, models.WorkflowTypeMAF).Return(template, nil)
	repo.On("AllocateSequence", mock.Anything, models.WorkflowTypeMAF, mock.Anything).Return(1, nil)
	repo.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	workflow, err := service.CreateWorkflow(context.Background(), actor, CreateWorkflowInput{
		WorkflowType: models.WorkflowTypeMAF,
		Title:        "Raw material restock",
		Submit:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInProgress, workflow.Status)

	createCall := repo.Calls[2]
	stages := createCall.Arguments.Get(2).([]models.StageInstance)
	require.Len(t, stages, 3)
	assert.Equal(t, models.StageStatusInProgress, stages[0].Status)
	assert.Equal(t, models.StageStatusPending, stages[1].Status)
	assert.Equal(t, models.StageStatusPending, stages[2].Status)
}

func TestCreateWorkflow_InactiveActorForbidden(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()
	actor.IsActive = false

	_, err := service.CreateWorkflow(context.Background(), actor, CreateWorkflowInput{
		WorkflowType: models.WorkflowTypeMAF,
		Title:        "Raw material restock",
	})
	assert.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "CreateWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateWorkflow_BlankTitleRejected(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	_, err := service.CreateWorkflow(context.Background(), requester(), CreateWorkflowInput{
		WorkflowType: models.WorkflowTypeMAF,
		Title:        "   ",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateWorkflow_InactiveTemplateRejected(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	template := mafTemplate()
	template.IsActive = false

	repo.On("GetTemplateByID", mock.Anything, template.ID).Return(template, nil)

	_, err := service.CreateWorkflow(context.Background(), requester(), CreateWorkflowInput{
		WorkflowType: models.WorkflowTypeMAF,
		TemplateID:   template.ID.String(),
		Title:        "Raw material restock",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateWorkflow_NoDefaultTemplate(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	repo.On("GetDefaultTemplate", mock.Anything, "CAPEX").Return(nil, repository.ErrNotFound)

	_, err := service.CreateWorkflow(context.Background(), requester(), CreateWorkflowInput{
		WorkflowType: "CAPEX",
		Title:        "New packaging line",
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

// --- Submit ---

func TestSubmit_DraftMovesInProgress(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: actor.ID,
		Status:      models.WorkflowStatusDraft,
	}
	first := &models.StageInstance{ID: uuid.New(), WorkflowID: workflow.ID, StageOrder: 1, Status: models.StageStatusPending}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByOrder", mock.Anything, workflow.ID, 1).Return(first, nil)
	repo.On("UpdateWorkflowStatus", mock.Anything, workflow.ID, models.WorkflowStatusDraft, models.WorkflowStatusInProgress).Return(nil)
	repo.On("UpdateStageStatus", mock.Anything, first.ID, models.StageStatusPending, models.StageStatusInProgress).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Submit(context.Background(), workflow.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInProgress, updated.Status)
	repo.AssertExpectations(t)
}

func TestSubmit_OnlyRequesterOrAdmin(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		Status:      models.WorkflowStatusDraft,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)

	stranger := models.Identity{ID: uuid.New(), Role: models.RoleFinance, IsActive: true}
	_, err := service.Submit(context.Background(), workflow.ID, stranger)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmit_AlreadySubmitted(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: actor.ID,
		Status:      models.WorkflowStatusInProgress,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)

	_, err := service.Submit(context.Background(), workflow.ID, actor)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	repo.AssertNotCalled(t, "UpdateWorkflowStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- Approve ---

func TestApprove_ActivatesNextStage(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	next := &models.StageInstance{ID: uuid.New(), WorkflowID: workflow.ID, StageOrder: 3, Status: models.StageStatusPending}
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, Department: "purchasing", IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 2).Return(int64(0), nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusCompleted).Return(nil)
	repo.On("CreateApproval", mock.Anything, mock.Anything).Return(nil)
	repo.On("GetStageByOrder", mock.Anything, workflow.ID, 3).Return(next, nil)
	repo.On("UpdateStageStatus", mock.Anything, next.ID, models.StageStatusPending, models.StageStatusInProgress).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInProgress, updated.Status)

	var approval *models.Approval
	for _, call := range repo.Calls {
		if call.Method == "CreateApproval" {
			approval = call.Arguments.Get(1).(*models.Approval)
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, models.ActionApproved, approval.Action)
	assert.Equal(t, approver.ID, approval.ApproverID)
	assert.Equal(t, "looks good", approval.Comments)
	repo.AssertExpectations(t)
}

func TestApprove_FinalStageCompletesWorkflow(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	stage.StageOrder = 3
	stage.RequiredRole = models.RoleCOO
	approver := models.Identity{ID: uuid.New(), Role: models.RoleCOO, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 3).Return(int64(0), nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusCompleted).Return(nil)
	repo.On("CreateApproval", mock.Anything, mock.Anything).Return(nil)
	repo.On("GetStageByOrder", mock.Anything, workflow.ID, 4).Return(nil, repository.ErrNotFound)
	repo.On("UpdateWorkflowStatus", mock.Anything, workflow.ID, models.WorkflowStatusInProgress, models.WorkflowStatusCompleted).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, updated.Status)
	repo.AssertExpectations(t)
}

func TestApprove_WrongRoleForbidden(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	approver := models.Identity{ID: uuid.New(), Role: models.RoleFinance, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "UpdateStageStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_InactiveApproverForbidden(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: false}

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "GetWorkflowByID", mock.Anything, mock.Anything)
}

func TestApprove_BlockedByEarlierRejection(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 2).Return(int64(1), nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	repo.AssertNotCalled(t, "CreateApproval", mock.Anything, mock.Anything)
}

func TestApprove_StageNotActive(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	stage.Status = models.StageStatusPending
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestApprove_StageFromDifferentWorkflow(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	stage.WorkflowID = uuid.New()
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrStageNotFound)
}

func TestApprove_MissingRequiredUpload(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	stage.FileUploadRequired = true
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 2).Return(int64(0), nil)
	repo.On("HasStageFile", mock.Anything, workflow.ID, stage.ID, approver.ID).Return(false, nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrMissingUpload)
	repo.AssertNotCalled(t, "CreateApproval", mock.Anything, mock.Anything)
}

func TestApprove_BypassRoleSkipsUploadGate(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	workflow.BypassUploadRoles = []string{"ceo"}
	stage.FileUploadRequired = true
	stage.RequiresOneOf = []string{"purchasing", "ceo"}
	stage.StageOrder = 2
	next := &models.StageInstance{ID: uuid.New(), WorkflowID: workflow.ID, StageOrder: 3, Status: models.StageStatusPending}
	approver := models.Identity{ID: uuid.New(), Role: models.RoleCEO, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 2).Return(int64(0), nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusCompleted).Return(nil)
	repo.On("CreateApproval", mock.Anything, mock.Anything).Return(nil)
	repo.On("GetStageByOrder", mock.Anything, workflow.ID, 3).Return(next, nil)
	repo.On("UpdateStageStatus", mock.Anything, next.ID, models.StageStatusPending, models.StageStatusInProgress).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "approved on signature")
	require.NoError(t, err)
	repo.AssertNotCalled(t, "HasStageFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_LostRaceSurfacesAsConflict(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("CountRejectedStagesBefore", mock.Anything, workflow.ID, 2).Return(int64(0), nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusCompleted).
		Return(repository.ErrStageConflict)

	_, err := service.Approve(context.Background(), workflow.ID, stage.ID, approver, "")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

// --- Reject ---

func TestReject_RequiresComments(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	_, err := service.Reject(context.Background(), uuid.New(), uuid.New(), approver, "   ")
	assert.ErrorIs(t, err, ErrValidation)
	repo.AssertNotCalled(t, "GetWorkflowByID", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateStageStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReject_TerminatesWorkflow(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	workflow, stage := inProgressFixture(uuid.New())
	approver := models.Identity{ID: uuid.New(), Role: models.RolePurchasing, IsActive: true}

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("GetStageByID", mock.Anything, stage.ID).Return(stage, nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusRejected).Return(nil)
	repo.On("CreateApproval", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateWorkflowStatus", mock.Anything, workflow.ID, models.WorkflowStatusInProgress, models.WorkflowStatusRejected).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Reject(context.Background(), workflow.ID, stage.ID, approver, "budget exceeded")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusRejected, updated.Status)

	var approval *models.Approval
	for _, call := range repo.Calls {
		if call.Method == "CreateApproval" {
			approval = call.Arguments.Get(1).(*models.Approval)
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, models.ActionRejected, approval.Action)
	assert.Equal(t, "budget exceeded", approval.Comments)
	repo.AssertExpectations(t)
}

// --- Cancel ---

func TestCancel_RevertsActiveStage(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()
	workflow, stage := inProgressFixture(actor.ID)

	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("UpdateWorkflowStatus", mock.Anything, workflow.ID, models.WorkflowStatusInProgress, models.WorkflowStatusCancelled).Return(nil)
	repo.On("ListStages", mock.Anything, workflow.ID).Return([]models.StageInstance{
		{ID: uuid.New(), WorkflowID: workflow.ID, StageOrder: 1, Status: models.StageStatusCompleted},
		*stage,
		{ID: uuid.New(), WorkflowID: workflow.ID, StageOrder: 3, Status: models.StageStatusPending},
	}, nil)
	repo.On("UpdateStageStatus", mock.Anything, stage.ID, models.StageStatusInProgress, models.StageStatusPending).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Cancel(context.Background(), workflow.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, updated.Status)
	repo.AssertExpectations(t)
}

func TestCancel_TerminalWorkflowRejected(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: actor.ID,
		Status:      models.WorkflowStatusCompleted,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)

	_, err := service.Cancel(context.Background(), workflow.ID, actor)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestCancel_StrangerForbidden(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		Status:      models.WorkflowStatusDraft,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)

	stranger := models.Identity{ID: uuid.New(), Role: models.RoleFinance, IsActive: true}
	_, err := service.Cancel(context.Background(), workflow.ID, stranger)
	assert.ErrorIs(t, err, ErrForbidden)
}

// --- Files ---

func TestRegisterFile_TerminalWorkflowRejected(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: actor.ID,
		Status:      models.WorkflowStatusRejected,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)

	_, err := service.RegisterFile(context.Background(), workflow.ID, actor, RegisterFileInput{
		FileName:   "quote.pdf",
		StorageRef: "s3://bucket/quote.pdf",
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	repo.AssertNotCalled(t, "CreateFile", mock.Anything, mock.Anything)
}

func TestRegisterFile_RecordsMetadata(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)
	actor := requester()

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: actor.ID,
		Status:      models.WorkflowStatusInProgress,
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("CreateFile", mock.Anything, mock.Anything).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	file, err := service.RegisterFile(context.Background(), workflow.ID, actor, RegisterFileInput{
		FileName:   "quote.pdf",
		StorageRef: "s3://bucket/quote.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, file.WorkflowID)
	assert.Equal(t, actor.ID, file.UploadedBy)
	assert.Nil(t, file.StageID)
}

// --- Visibility on reads ---

func TestGetWorkflow_FiltersStagesForViewer(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	workflow := &models.WorkflowInstance{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		Status:      models.WorkflowStatusInProgress,
	}
	stages := []models.StageInstance{
		{StageOrder: 1, StageName: "Open Review"},
		{StageOrder: 2, StageName: "Finance Review", VisibleToDepartments: []string{"finance"}},
	}
	repo.On("GetWorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	repo.On("ListStages", mock.Anything, workflow.ID).Return(stages, nil)
	repo.On("ListApprovals", mock.Anything, workflow.ID).Return([]models.Approval{}, nil)

	outsider := models.Identity{ID: uuid.New(), Role: models.RoleLogistics, Department: "logistics", IsActive: true}
	detail, err := service.GetWorkflow(context.Background(), workflow.ID, outsider)
	require.NoError(t, err)
	require.Len(t, detail.Stages, 1)
	assert.Equal(t, "Open Review", detail.Stages[0].StageName)
}

// --- Sequence administration ---

func TestResetSequence_AdminOnly(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	actor := models.Identity{ID: uuid.New(), Role: models.RoleFinance, IsActive: true}
	err := service.ResetSequence(context.Background(), actor, models.WorkflowTypeMAF, time.Now())
	assert.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "ResetSequence", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetSequence_AdminResetsAndAudits(t *testing.T) {
	repo := new(MockWorkflowRepository)
	service := newTestService(repo)

	repo.On("ResetSequence", mock.Anything, models.WorkflowTypeMAF, mock.Anything).Return(nil)
	repo.On("CreateAuditLog", mock.Anything, mock.Anything).Return(nil)

	admin := models.Identity{ID: uuid.New(), Role: models.RoleAdmin, IsActive: true}
	err := service.ResetSequence(context.Background(), admin, models.WorkflowTypeMAF, time.Now())
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
