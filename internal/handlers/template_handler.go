package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workflow-service/internal/middleware"
	"workflow-service/internal/services"
)

// TemplateHandler handles HTTP requests for workflow templates and
// sequence administration
type TemplateHandler struct {
	templates *services.TemplateService
	workflows *services.WorkflowService
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(templates *services.TemplateService, workflows *services.WorkflowService) *TemplateHandler {
	return &TemplateHandler{templates: templates, workflows: workflows}
}

// CreateTemplate creates a new workflow template
// @Summary Create template
// @Tags Templates
// @Accept json
// @Produce json
// @Param request body services.TemplateInput true "Template"
// @Success 201 {object} models.WorkflowTemplate
// @Router /api/v1/templates [post]
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var input services.TemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, err := h.templates.CreateTemplate(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

// UpdateTemplate replaces a template definition
// @Summary Update template
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param request body services.TemplateInput true "Template"
// @Success 200 {object} models.WorkflowTemplate
// @Router /api/v1/templates/{id} [put]
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
		return
	}

	var input services.TemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, err := h.templates.UpdateTemplate(c.Request.Context(), actor, templateID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// GetTemplate retrieves a template with its stage definitions
// @Summary Get template
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} models.WorkflowTemplate
// @Router /api/v1/templates/{id} [get]
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
		return
	}

	template, err := h.templates.GetTemplate(c.Request.Context(), templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// ListTemplates lists templates
// @Summary List templates
// @Tags Templates
// @Produce json
// @Param activeOnly query bool false "Only active templates"
// @Success 200 {array} models.WorkflowTemplate
// @Router /api/v1/templates [get]
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	activeOnly := c.Query("activeOnly") == "true"

	templates, err := h.templates.ListTemplates(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

type resetSequenceBody struct {
	SequenceType string `json:"sequenceType" binding:"required"`
	Date         string `json:"date,omitempty"`
}

// ResetSequence zeroes a daily sequence counter. Admin only.
// @Summary Reset sequence counter
// @Tags Templates
// @Accept json
// @Produce json
// @Param request body resetSequenceBody true "Sequence"
// @Success 200 {object} map[string]string
// @Router /api/v1/sequences/reset [post]
func (h *TemplateHandler) ResetSequence(c *gin.Context) {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var body resetSequenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date := time.Now()
	if body.Date != "" {
		parsed, err := time.Parse("2006-01-02", body.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	if err := h.workflows.ResetSequence(c.Request.Context(), actor, body.SequenceType, date); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
