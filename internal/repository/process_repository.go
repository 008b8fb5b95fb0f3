package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"compliance-service/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStageConflict    = errors.New("stage conflict - process was advanced by another request")
	ErrDuplicateProcess = errors.New("an active process already exists for this job")
)

// ProcessRepositoryInterface defines database operations for the approval
// workflow. The interface exists so services can be tested against mocks and
// so transactional variants share one contract.
type ProcessRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo ProcessRepositoryInterface) error) error

	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, expected, next string) error

	CreateProcess(ctx context.Context, process *models.ApprovalProcess) error
	GetProcessByJob(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) (*models.ApprovalProcess, error)
	AdvanceStage(ctx context.Context, process *models.ApprovalProcess, stage models.Stage, approval *models.StageApproval) error
	RejectProcess(ctx context.Context, process *models.ApprovalProcess, reason string, rejectedAt time.Time) error
	ListProcesses(ctx context.Context, kind, status string, limit, offset int) ([]models.ApprovalProcess, int64, error)

	AppendEvent(ctx context.Context, event *models.WorkflowEvent) error
	ListEvents(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) ([]models.WorkflowEvent, error)
}

// EnsureActiveProcessIndex creates the partial unique index enforcing at
// most one non-rejected process per (job, kind). AutoMigrate cannot express
// a partial index, so it is applied explicitly after migrations.
func EnsureActiveProcessIndex(db *gorm.DB) error {
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_processes_active
		 ON approval_processes (job_id, kind) WHERE status <> 'rejected'`,
	).Error
}

// ProcessRepository is the GORM-backed implementation.
type ProcessRepository struct {
	db *gorm.DB
}

// NewProcessRepository creates a new ProcessRepository
func NewProcessRepository(db *gorm.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

// WithTransaction runs fn against a repository bound to a database
// transaction. A returned error rolls everything back.
func (r *ProcessRepository) WithTransaction(ctx context.Context, fn func(txRepo ProcessRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ProcessRepository{db: tx})
	})
}

// --- Job Methods ---

// GetJobByID retrieves a job by ID
func (r *ProcessRepository) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus advances a job's status conditionally on its expected
// current value, so two concurrent transitions cannot both commit.
func (r *ProcessRepository) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, expected, next string) error {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, expected).
		Updates(map[string]interface{}{
			"status":     next,
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

// --- Process Methods ---

// CreateProcess creates a new approval process. The partial unique index on
// (job_id, kind) for non-rejected rows serializes concurrent initializes:
// the second insert loses with ErrDuplicateProcess.
func (r *ProcessRepository) CreateProcess(ctx context.Context, process *models.ApprovalProcess) error {
	err := r.db.WithContext(ctx).Create(process).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateProcess
	}
	return err
}

// GetProcessByJob retrieves the latest process of a kind for a job.
func (r *ProcessRepository) GetProcessByJob(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) (*models.ApprovalProcess, error) {
	var process models.ApprovalProcess
	err := r.db.WithContext(ctx).
		Where("kind = ? AND job_id = ?", string(kind), jobID).
		Order("created_at DESC").
		First(&process).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &process, nil
}

// AdvanceStage records an approval and moves the process forward. The update
// is conditional on the current stage still matching, which serializes
// concurrent approvals at the same stage: exactly one wins, the loser gets
// ErrStageConflict.
func (r *ProcessRepository) AdvanceStage(ctx context.Context, process *models.ApprovalProcess, stage models.Stage, approval *models.StageApproval) error {
	approvalJSON, err := json.Marshal(approval)
	if err != nil {
		return err
	}

	newStage := process.CurrentStage
	newStatus := models.ProcessStatusInProgress
	if next, ok := stage.Next(); ok {
		newStage = next
	} else {
		newStatus = models.ProcessStatusCompleted
	}

	updates := map[string]interface{}{
		"current_stage":    string(newStage),
		"status":           newStatus,
		"completed_stages": gorm.Expr("array_append(completed_stages, ?)", string(stage)),
		"version":          process.Version + 1,
		"updated_at":       time.Now(),
	}
	updates[stageColumn(stage)] = datatypes.JSON(approvalJSON)

	result := r.db.WithContext(ctx).Model(&models.ApprovalProcess{}).
		Where("id = ? AND status = ? AND current_stage = ? AND version = ?",
			process.ID, models.ProcessStatusInProgress, string(stage), process.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}

	process.SetApprovalForStage(stage, approval)
	process.CurrentStage = newStage
	process.Status = newStatus
	process.CompletedStages = append(process.CompletedStages, string(stage))
	process.Version++
	return nil
}

// RejectProcess terminates a process from its current stage. Conditional on
// the process still being in progress, same at-most-one-winner rule as
// AdvanceStage.
func (r *ProcessRepository) RejectProcess(ctx context.Context, process *models.ApprovalProcess, reason string, rejectedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalProcess{}).
		Where("id = ? AND status = ? AND version = ?",
			process.ID, models.ProcessStatusInProgress, process.Version).
		Updates(map[string]interface{}{
			"status":           models.ProcessStatusRejected,
			"rejection_reason": reason,
			"rejected_at":      rejectedAt,
			"version":          process.Version + 1,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}

	process.Status = models.ProcessStatusRejected
	process.RejectionReason = reason
	process.RejectedAt = &rejectedAt
	process.Version++
	return nil
}

// ListProcesses retrieves processes with optional kind and status filters,
// newest first.
func (r *ProcessRepository) ListProcesses(ctx context.Context, kind, status string, limit, offset int) ([]models.ApprovalProcess, int64, error) {
	var processes []models.ApprovalProcess
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ApprovalProcess{})
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Job").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&processes).Error

	return processes, total, err
}

// --- Event Methods ---

// AppendEvent creates a history entry. Entries are insert-only; there is no
// update or delete path.
func (r *ProcessRepository) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListEvents retrieves the history for a job's process kind in commit order.
func (r *ProcessRepository) ListEvents(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) ([]models.WorkflowEvent, error) {
	var events []models.WorkflowEvent
	err := r.db.WithContext(ctx).
		Where("kind = ? AND job_id = ?", string(kind), jobID).
		Order("seq ASC").
		Find(&events).Error
	return events, err
}

func stageColumn(stage models.Stage) string {
	switch stage {
	case models.StageLMRO:
		return "lmro_approval"
	case models.StageDLMRO:
		return "dlmro_approval"
	case models.StageCEO:
		return "ceo_approval"
	}
	return ""
}
