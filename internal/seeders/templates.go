package seeders

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"workflow-service/internal/models"
)

// SeedDefaultTemplates creates the default approval chain for each workflow
// type if none exists yet. Existing defaults are left alone so operator edits
// survive restarts.
func SeedDefaultTemplates(db *gorm.DB) error {
	templates := []models.WorkflowTemplate{
		{
			WorkflowType: models.WorkflowTypeMAF,
			Name:         "Material Approval Form",
			Description:  "Default approval chain for material requests",
			IsActive:     true,
			IsDefault:    true,
			Stages: []models.StageDefinition{
				{
					StageOrder:         1,
					Name:               "PPIC Review",
					Department:         "ppic",
					RequiredRole:       models.RolePPIC,
					ApprovalRequired:   true,
					FileUploadRequired: true,
				},
				{
					StageOrder:       2,
					Name:             "Purchasing Review",
					Department:       "purchasing",
					RequiredRole:     models.RolePurchasing,
					ApprovalRequired: true,
				},
				{
					StageOrder:           3,
					Name:                 "COO Approval",
					RequiredRole:         models.RoleCOO,
					ApprovalRequired:     true,
					VisibleToDepartments: []string{"ppic", "purchasing"},
				},
			},
		},
		{
			WorkflowType:      models.WorkflowTypePurchaseRequest,
			Name:              "Purchase Request",
			Description:       "Default approval chain for purchase requests",
			BypassUploadRoles: []string{string(models.RoleCEO), string(models.RoleCFO)},
			IsActive:          true,
			IsDefault:         true,
			Stages: []models.StageDefinition{
				{
					StageOrder:       1,
					Name:             "GA Review",
					Department:       "general-affairs",
					RequiredRole:     models.RoleGA,
					ApprovalRequired: true,
				},
				{
					StageOrder:         2,
					Name:               "Finance Review",
					Department:         "finance",
					RequiredRole:       models.RoleFinance,
					ApprovalRequired:   true,
					FileUploadRequired: true,
				},
				{
					StageOrder:       3,
					Name:             "CFO Approval",
					RequiredRole:     models.RoleCFO,
					RequiresOneOf:    []string{string(models.RoleCFO), string(models.RoleCEO)},
					ApprovalRequired: true,
				},
			},
		},
		{
			WorkflowType: models.WorkflowTypeCapex,
			Name:         "Capital Expenditure",
			Description:  "Default approval chain for capital expenditure proposals",
			IsActive:     true,
			IsDefault:    true,
			Stages: []models.StageDefinition{
				{
					StageOrder:         1,
					Name:               "Finance Review",
					Department:         "finance",
					RequiredRole:       models.RoleFinance,
					ApprovalRequired:   true,
					FileUploadRequired: true,
				},
				{
					StageOrder:       2,
					Name:             "CFO Approval",
					RequiredRole:     models.RoleCFO,
					ApprovalRequired: true,
				},
				{
					StageOrder:       3,
					Name:             "CEO Approval",
					RequiredRole:     models.RoleCEO,
					ApprovalRequired: true,
				},
			},
		},
	}

	for _, template := range templates {
		var existing models.WorkflowTemplate
		err := db.Where("workflow_type = ? AND is_default = true", template.WorkflowType).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := db.Create(&template).Error; err != nil {
			log.Printf("Failed to seed template %s: %v", template.WorkflowType, err)
			return err
		}
		log.Printf("Seeded default template: %s (%s)", template.Name, template.WorkflowType)
	}

	return nil
}
