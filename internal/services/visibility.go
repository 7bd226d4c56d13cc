package services

import (
	"workflow-service/internal/models"
)

// VisibleStages projects a workflow's stage list down to what the viewer may
// see. A stage is visible when the viewer is the requester, an executive or
// admin, the stage carries no department restriction, or the viewer's
// department is listed.
//
// This is a pure, order-preserving read-side projection. It never mutates
// stage state and must not gate write operations; the stage engine re-checks
// authorization independently on every mutation.
func VisibleStages(workflow *models.WorkflowInstance, stages []models.StageInstance, viewer models.Identity) []models.StageInstance {
	if viewer.Role.IsExecutive() || viewer.ID == workflow.RequesterID {
		out := make([]models.StageInstance, len(stages))
		copy(out, stages)
		return out
	}

	out := make([]models.StageInstance, 0, len(stages))
	for _, stage := range stages {
		if len(stage.VisibleToDepartments) == 0 {
			out = append(out, stage)
			continue
		}
		for _, dept := range stage.VisibleToDepartments {
			if viewer.Department == dept {
				out = append(out, stage)
				break
			}
		}
	}
	return out
}
