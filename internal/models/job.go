package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job lifecycle statuses touched by the verification workflows. The job
// subsystem owns the earlier statuses; the workflow engine only reads the
// prerequisite marker and advances to the pending/completion markers.
const (
	JobStatusOMCompleted  = "om_completed"
	JobStatusKYCPending   = "kyc_pending"
	JobStatusKYCCompleted = "kyc_completed"
	JobStatusBRAPending   = "bra_pending"
	JobStatusCompleted    = "completed"
)

// Job is the client engagement a verification process attaches to. The
// workflow engine cares only about Status; the remaining fields belong to the
// generic job subsystem.
type Job struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ClientID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"clientId"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	Status    string         `gorm:"type:varchar(30);not null;index" json:"status"`
	Details   datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for Job
func (Job) TableName() string {
	return "jobs"
}
