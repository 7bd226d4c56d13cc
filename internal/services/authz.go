package services

import (
	"workflow-service/internal/models"
)

// isAuthorized is the single evaluation point for who may act on a stage,
// shared by approve and reject.
//
// The role rule: admin, or an exact match on the stage's required role, or
// membership in its requiresOneOf set. Department-scoped stages additionally
// require the actor's department to appear in visibleToDepartments, except
// for the requester and executive roles: visibility restricts discovery, not
// the requester's or executives' oversight.
func isAuthorized(stage *models.StageInstance, workflow *models.WorkflowInstance, actor models.Identity) bool {
	if !stage.RoleMatches(actor.Role) {
		return false
	}

	if len(stage.VisibleToDepartments) == 0 {
		return true
	}
	if actor.Role.IsExecutive() || actor.ID == workflow.RequesterID {
		return true
	}
	for _, dept := range stage.VisibleToDepartments {
		if actor.Department == dept {
			return true
		}
	}
	return false
}

// canBypassUpload reports whether the actor's role is in the workflow's
// configured signature-only set. The bypass is a named per-template
// exception, never a default.
func canBypassUpload(workflow *models.WorkflowInstance, actor models.Identity) bool {
	for _, r := range workflow.BypassUploadRoles {
		if actor.Role == models.Role(r) {
			return true
		}
	}
	return false
}
