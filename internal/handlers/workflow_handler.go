package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workflow-service/internal/middleware"
	"workflow-service/internal/services"
)

// WorkflowHandler handles HTTP requests for workflow instances
type WorkflowHandler struct {
	service *services.WorkflowService
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(service *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: service}
}

// statusFor maps service errors onto HTTP statuses. A lost race surfaces as
// 409 so clients refetch and retry instead of showing a hard error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrWorkflowNotFound),
		errors.Is(err, services.ErrStageNotFound),
		errors.Is(err, services.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrMissingUpload):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		// Storage failures stay generic for the caller and are logged
		// upstream for operator follow-up.
		c.JSON(status, gin.H{"error": "an internal error occurred, please try again"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CreateWorkflow creates a new workflow instance
// @Summary Create workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param request body services.CreateWorkflowInput true "Create Workflow"
// @Success 201 {object} models.WorkflowInstance
// @Router /api/v1/workflows [post]
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var input services.CreateWorkflowInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, err := h.service.CreateWorkflow(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, workflow)
}

// Submit submits a draft workflow
// @Summary Submit workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} models.WorkflowInstance
// @Router /api/v1/workflows/{id}/submit [post]
func (h *WorkflowHandler) Submit(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	workflow, err := h.service.Submit(c.Request.Context(), workflowID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

type decisionBody struct {
	Comments string `json:"comments"`
}

// Approve approves the active stage of a workflow
// @Summary Approve stage
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param stageId path string true "Stage ID"
// @Param request body decisionBody false "Comments"
// @Success 200 {object} models.WorkflowInstance
// @Router /api/v1/workflows/{id}/stages/{stageId}/approve [post]
func (h *WorkflowHandler) Approve(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage id"})
		return
	}

	var body decisionBody
	_ = c.ShouldBindJSON(&body)

	workflow, err := h.service.Approve(c.Request.Context(), workflowID, stageID, actor, body.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// Reject rejects the active stage and terminates the workflow
// @Summary Reject stage
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param stageId path string true "Stage ID"
// @Param request body decisionBody true "Comments (required)"
// @Success 200 {object} models.WorkflowInstance
// @Router /api/v1/workflows/{id}/stages/{stageId}/reject [post]
func (h *WorkflowHandler) Reject(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage id"})
		return
	}

	var body decisionBody
	_ = c.ShouldBindJSON(&body)

	workflow, err := h.service.Reject(c.Request.Context(), workflowID, stageID, actor, body.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// Cancel cancels a draft or in-progress workflow
// @Summary Cancel workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} models.WorkflowInstance
// @Router /api/v1/workflows/{id} [delete]
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	workflow, err := h.service.Cancel(c.Request.Context(), workflowID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// GetWorkflow retrieves a workflow with visibility-filtered stages
// @Summary Get workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} services.WorkflowDetail
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	viewer, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	detail, err := h.service.GetWorkflow(c.Request.Context(), workflowID, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListMyWorkflows lists workflows requested by the caller
// @Summary List my workflows
// @Tags Workflows
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workflows/mine [get]
func (h *WorkflowHandler) ListMyWorkflows(c *gin.Context) {
	viewer, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit, offset := pagination(c)
	workflows, total, err := h.service.ListMyWorkflows(c.Request.Context(), viewer, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   workflows,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListPending lists workflows waiting on the caller's role
// @Summary List workflows pending my role
// @Tags Workflows
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workflows/pending [get]
func (h *WorkflowHandler) ListPending(c *gin.Context) {
	viewer, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit, offset := pagination(c)
	workflows, total, err := h.service.ListPendingForRole(c.Request.Context(), viewer, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   workflows,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetHistory retrieves the audit trail for a workflow
// @Summary Get workflow audit history
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {array} models.AuditLog
// @Router /api/v1/workflows/{id}/history [get]
func (h *WorkflowHandler) GetHistory(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	logs, err := h.service.GetAuditTrail(c.Request.Context(), workflowID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// RegisterFile records attached-file metadata against a workflow
// @Summary Register attached file
// @Tags Files
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param request body services.RegisterFileInput true "File metadata"
// @Success 201 {object} models.AttachedFile
// @Router /api/v1/workflows/{id}/files [post]
func (h *WorkflowHandler) RegisterFile(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var input services.RegisterFileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := h.service.RegisterFile(c.Request.Context(), workflowID, actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

// ListFiles lists attached files for a workflow
// @Summary List attached files
// @Tags Files
// @Produce json
// @Param id path string true "Workflow ID"
// @Param stageId query string false "Stage ID filter"
// @Success 200 {array} models.AttachedFile
// @Router /api/v1/workflows/{id}/files [get]
func (h *WorkflowHandler) ListFiles(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var stageID *uuid.UUID
	if raw := c.Query("stageId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage id"})
			return
		}
		stageID = &parsed
	}

	files, err := h.service.ListFiles(c.Request.Context(), workflowID, stageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}
