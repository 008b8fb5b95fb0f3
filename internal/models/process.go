package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// ProcessKind tags which verification chain a process belongs to. KYC and BRA
// share one engine; the kind only selects permissions and job-status markers.
type ProcessKind string

// Process kinds
const (
	KindKYC ProcessKind = "kyc"
	KindBRA ProcessKind = "bra"
)

// KindSpec describes how a process kind hooks into the job lifecycle.
type KindSpec struct {
	// Prerequisite is the job status required before Initialize is allowed.
	Prerequisite string
	// PendingStatus is projected onto the job when the chain starts.
	PendingStatus string
	// CompletedStatus is projected onto the job after the CEO approval.
	CompletedStatus string
}

var kindSpecs = map[ProcessKind]KindSpec{
	KindKYC: {
		Prerequisite:    JobStatusOMCompleted,
		PendingStatus:   JobStatusKYCPending,
		CompletedStatus: JobStatusKYCCompleted,
	},
	KindBRA: {
		Prerequisite:    JobStatusKYCCompleted,
		PendingStatus:   JobStatusBRAPending,
		CompletedStatus: JobStatusCompleted,
	},
}

// Spec returns the job-lifecycle hooks for the kind.
func (k ProcessKind) Spec() KindSpec {
	return kindSpecs[k]
}

// Valid reports whether k is a known process kind.
func (k ProcessKind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Stage is one link of the sequential approval chain.
type Stage string

// Approval stages, in chain order
const (
	StageLMRO  Stage = "lmro"
	StageDLMRO Stage = "dlmro"
	StageCEO   Stage = "ceo"
)

// StageOrder is the fixed chain sequence. Approvals only ever move forward
// through this slice.
var StageOrder = []Stage{StageLMRO, StageDLMRO, StageCEO}

// ParseStage validates a stage string from a route or payload.
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageLMRO, StageDLMRO, StageCEO:
		return Stage(s), true
	}
	return "", false
}

// Next returns the following stage in the chain, or false when s is the
// final (CEO) stage.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range StageOrder {
		if stage == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Process statuses
const (
	ProcessStatusInProgress = "in_progress"
	ProcessStatusCompleted  = "completed"
	ProcessStatusRejected   = "rejected"
)

// Document references an uploaded evidence file in blob storage. Every
// approval must carry one.
type Document struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
}

// Valid reports whether the document reference is usable as approval
// evidence.
func (d *Document) Valid() bool {
	return d != nil && d.FileURL != "" && d.FileName != ""
}

// StageApproval is the outcome recorded when a stage approver signs off.
type StageApproval struct {
	Approved   bool      `json:"approved"`
	Notes      string    `json:"notes,omitempty"`
	Document   Document  `json:"document"`
	UserID     uuid.UUID `json:"userId"`
	UserName   string    `json:"userName,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// ApprovalProcess is one verification chain for one job. At most one process
// per (job, kind) may be in progress or completed at a time.
type ApprovalProcess struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Kind         string    `gorm:"type:varchar(10);not null;index:idx_processes_job_kind" json:"kind"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;index:idx_processes_job_kind" json:"jobId"`
	Status       string    `gorm:"type:varchar(20);not null;default:'in_progress';index" json:"status"`
	CurrentStage Stage     `gorm:"type:varchar(10);not null" json:"currentApprovalStage"`
	Version      int       `gorm:"not null;default:1" json:"version"`

	LMROApproval  *StageApproval `gorm:"type:jsonb;serializer:json" json:"lmroApproval,omitempty"`
	DLMROApproval *StageApproval `gorm:"type:jsonb;serializer:json" json:"dlmroApproval,omitempty"`
	CEOApproval   *StageApproval `gorm:"type:jsonb;serializer:json" json:"ceoApproval,omitempty"`

	// CompletedStages lists the stages already signed off, in commit order.
	CompletedStages pq.StringArray `gorm:"type:text[]" json:"completedStages,omitempty"`

	RejectionReason string     `gorm:"type:text" json:"rejectionReason,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Job *Job `gorm:"foreignKey:JobID" json:"job,omitempty"`
}

// TableName returns the table name for ApprovalProcess
func (ApprovalProcess) TableName() string {
	return "approval_processes"
}

// IsTerminal returns true if the process can no longer transition.
func (p *ApprovalProcess) IsTerminal() bool {
	return p.Status == ProcessStatusCompleted || p.Status == ProcessStatusRejected
}

// ApprovalForStage returns the recorded approval for a stage, if any.
func (p *ApprovalProcess) ApprovalForStage(stage Stage) *StageApproval {
	switch stage {
	case StageLMRO:
		return p.LMROApproval
	case StageDLMRO:
		return p.DLMROApproval
	case StageCEO:
		return p.CEOApproval
	}
	return nil
}

// SetApprovalForStage records an approval on the matching stage field.
func (p *ApprovalProcess) SetApprovalForStage(stage Stage, approval *StageApproval) {
	switch stage {
	case StageLMRO:
		p.LMROApproval = approval
	case StageDLMRO:
		p.DLMROApproval = approval
	case StageCEO:
		p.CEOApproval = approval
	}
}

// Workflow event actions
const (
	EventActionInitialized = "initialize"
	EventActionApproved    = "approved"
	EventActionRejected    = "rejected"
)

// WorkflowEvent is one append-only history entry. Entries are written in the
// same transaction as the transition they describe and are never updated.
type WorkflowEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProcessID uuid.UUID      `gorm:"type:uuid;not null;index" json:"processId"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"jobId"`
	Kind      string         `gorm:"type:varchar(10);not null" json:"kind"`
	Seq       int64          `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	Action    string         `gorm:"type:varchar(20);not null" json:"action"`
	Stage     Stage          `gorm:"type:varchar(10)" json:"stage,omitempty"`
	ActorID   uuid.UUID      `gorm:"type:uuid;not null" json:"actorId"`
	ActorName string         `gorm:"type:varchar(255)" json:"actorName,omitempty"`
	Notes     string         `gorm:"type:text" json:"notes,omitempty"`
	Reason    string         `gorm:"type:text" json:"reason,omitempty"`
	Document  datatypes.JSON `gorm:"type:jsonb" json:"document,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for WorkflowEvent
func (WorkflowEvent) TableName() string {
	return "workflow_events"
}
