package models

import (
	"time"

	"github.com/google/uuid"
)

// AttachedFile is supporting-file metadata. The service never reads file
// bytes; StorageRef points into the external file store. A nil StageID marks
// a file attached at workflow-creation time rather than during a stage.
type AttachedFile struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workflowId"`
	StageID    *uuid.UUID `gorm:"type:uuid;index" json:"stageId,omitempty"`
	FileName   string     `gorm:"type:varchar(255);not null" json:"fileName"`
	StorageRef string     `gorm:"type:varchar(512);not null" json:"storageRef"`
	UploadedBy uuid.UUID  `gorm:"type:uuid;not null;index" json:"uploadedBy"`
	UploadedAt time.Time  `gorm:"autoCreateTime" json:"uploadedAt"`
}

// TableName returns the table name for AttachedFile
func (AttachedFile) TableName() string {
	return "attached_files"
}
