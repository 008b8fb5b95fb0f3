package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"compliance-service/internal/events"
	"compliance-service/internal/models"
	"compliance-service/internal/repository"
)

var (
	ErrUnknownKind     = errors.New("unknown verification process kind")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotEligible  = errors.New("job has not reached the prerequisite status for this process")
	ErrProcessNotFound = errors.New("verification process not found")
	ErrProcessExists   = errors.New("a verification process already exists for this job")
	ErrProcessClosed   = errors.New("verification process is already completed or rejected")
	// ErrWrongStage means the caller is allowed to act at the requested stage
	// in general, but the process is currently at a different stage. Kept
	// distinct from ErrMissingPermission so the UI can render the right hint.
	ErrWrongStage        = errors.New("process is at a different approval stage")
	ErrMissingPermission = errors.New("user is not authorized for this approval stage")
	ErrMissingDocument   = errors.New("an evidence document is required for approval")
	ErrMissingReason     = errors.New("a rejection reason is required")
)

// ApproveInput carries the evidence attached to a stage approval. The
// document must already be uploaded; the engine only records its reference.
type ApproveInput struct {
	Notes    string
	Document models.Document
}

// StatusDescriptor is the workflow state reported to the frontend. When no
// process exists it is synthesized from the job alone, with Exists false.
type StatusDescriptor struct {
	Exists          bool                  `json:"exists"`
	Status          string                `json:"status,omitempty"`
	CurrentStage    models.Stage          `json:"currentApprovalStage,omitempty"`
	LMROApproval    *models.StageApproval `json:"lmroApproval,omitempty"`
	DLMROApproval   *models.StageApproval `json:"dlmroApproval,omitempty"`
	CEOApproval     *models.StageApproval `json:"ceoApproval,omitempty"`
	RejectionReason string                `json:"rejectionReason,omitempty"`
	RejectedAt      *time.Time            `json:"rejectedAt,omitempty"`
	CanInitialize   bool                  `json:"canInitialize"`
	JobStatus       string                `json:"jobStatus"`
}

// WorkflowService is the approval workflow engine. One instance serves both
// the KYC and BRA chains; the kind parameter selects permissions and
// job-status markers, everything else is shared.
type WorkflowService struct {
	repo      repository.ProcessRepositoryInterface
	publisher *events.Publisher

	// allowRestart permits a new process after a rejected one. When false,
	// rejection is terminal for the job's process kind forever.
	allowRestart bool
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(repo repository.ProcessRepositoryInterface, publisher *events.Publisher, allowRestart bool) *WorkflowService {
	return &WorkflowService{
		repo:         repo,
		publisher:    publisher,
		allowRestart: allowRestart,
	}
}

// Initialize starts a verification chain for a job. The job must be at the
// kind's prerequisite status and no active process of the kind may exist.
// The process creation, the job-status projection and the history entry
// commit as one transaction.
func (s *WorkflowService) Initialize(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID, actor *models.User) (*models.ApprovalProcess, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	spec := kind.Spec()

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	existing, err := s.repo.GetProcessByJob(ctx, kind, jobID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	restarting := false
	if existing != nil {
		if existing.Status != models.ProcessStatusRejected {
			return nil, ErrProcessExists
		}
		if !s.allowRestart {
			return nil, ErrProcessExists
		}
		restarting = true
	}

	// A fresh chain starts from the prerequisite marker. A restart after
	// rejection finds the job already at the pending marker.
	if restarting {
		if job.Status != spec.PendingStatus {
			return nil, ErrJobNotEligible
		}
	} else if job.Status != spec.Prerequisite {
		return nil, ErrJobNotEligible
	}

	process := &models.ApprovalProcess{
		Kind:         string(kind),
		JobID:        jobID,
		Status:       models.ProcessStatusInProgress,
		CurrentStage: models.StageLMRO,
		Version:      1,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repository.ProcessRepositoryInterface) error {
		// A concurrent initialize that won the race trips the partial unique
		// index here; the existence check above cannot see it.
		if err := txRepo.CreateProcess(ctx, process); err != nil {
			return fmt.Errorf("failed to create process: %w", err)
		}
		// Conditional on the status we observed; a concurrent initialize
		// loses here and rolls the whole transaction back.
		if err := txRepo.UpdateJobStatus(ctx, jobID, job.Status, spec.PendingStatus); err != nil {
			return err
		}
		return txRepo.AppendEvent(ctx, &models.WorkflowEvent{
			ProcessID: process.ID,
			JobID:     jobID,
			Kind:      string(kind),
			Action:    models.EventActionInitialized,
			ActorID:   actor.ID,
			ActorName: actor.Name,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateProcess) {
			return nil, ErrProcessExists
		}
		return nil, err
	}

	s.publisher.PublishTransition(ctx, events.ProcessInitialized, process, actor.ID, actor.Name, "")
	return process, nil
}

// Approve records a stage sign-off and advances the chain. The caller must
// hold the stage's capability (or be admin), the process must currently be
// at that exact stage, and the evidence document is mandatory. The stage
// fields, history entry and job-status projection commit atomically; a guard
// failure leaves the process untouched.
func (s *WorkflowService) Approve(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID, stage models.Stage, actor *models.User, input ApproveInput) (*models.ApprovalProcess, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	process, err := s.getOpenProcess(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}

	if !actor.CanActAtStage(kind, stage) {
		return nil, ErrMissingPermission
	}
	if process.CurrentStage != stage {
		return nil, ErrWrongStage
	}
	if !input.Document.Valid() {
		return nil, ErrMissingDocument
	}

	approval := &models.StageApproval{
		Approved:   true,
		Notes:      input.Notes,
		Document:   input.Document,
		UserID:     actor.ID,
		UserName:   actor.Name,
		ApprovedAt: time.Now().UTC(),
	}

	documentJSON, err := json.Marshal(input.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document reference: %w", err)
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repository.ProcessRepositoryInterface) error {
		if err := txRepo.AdvanceStage(ctx, process, stage, approval); err != nil {
			return err
		}
		if err := txRepo.AppendEvent(ctx, &models.WorkflowEvent{
			ProcessID: process.ID,
			JobID:     jobID,
			Kind:      string(kind),
			Action:    models.EventActionApproved,
			Stage:     stage,
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Notes:     input.Notes,
			Document:  datatypes.JSON(documentJSON),
		}); err != nil {
			return err
		}
		if process.Status == models.ProcessStatusCompleted {
			spec := kind.Spec()
			return txRepo.UpdateJobStatus(ctx, jobID, spec.PendingStatus, spec.CompletedStatus)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := events.StageApproved
	if process.Status == models.ProcessStatusCompleted {
		eventType = events.ProcessCompleted
	}
	s.publisher.PublishTransition(ctx, eventType, process, actor.ID, actor.Name, "")

	return process, nil
}

// Reject terminates the chain from its current stage. Callable by the
// current stage's approver (or admin) with a mandatory reason. The job's own
// status is left alone; the rejected process carries the signal.
func (s *WorkflowService) Reject(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID, actor *models.User, reason string) (*models.ApprovalProcess, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}

	process, err := s.getOpenProcess(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}

	if !actor.CanActAtStage(kind, process.CurrentStage) {
		return nil, ErrMissingPermission
	}

	rejectedAt := time.Now().UTC()
	err = s.repo.WithTransaction(ctx, func(txRepo repository.ProcessRepositoryInterface) error {
		if err := txRepo.RejectProcess(ctx, process, reason, rejectedAt); err != nil {
			return err
		}
		return txRepo.AppendEvent(ctx, &models.WorkflowEvent{
			ProcessID: process.ID,
			JobID:     jobID,
			Kind:      string(kind),
			Action:    models.EventActionRejected,
			Stage:     process.CurrentStage,
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Reason:    reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishTransition(ctx, events.ProcessRejected, process, actor.ID, actor.Name, reason)
	return process, nil
}

// Status reports the workflow state for a job. Nonexistence of a process is
// not an error: the descriptor comes back with Exists false and eligibility
// derived from the job's status alone. Nothing is persisted.
func (s *WorkflowService) Status(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) (*StatusDescriptor, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	spec := kind.Spec()

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	process, err := s.repo.GetProcessByJob(ctx, kind, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &StatusDescriptor{
				Exists:        false,
				CanInitialize: job.Status == spec.Prerequisite,
				JobStatus:     job.Status,
			}, nil
		}
		return nil, err
	}

	return &StatusDescriptor{
		Exists:          true,
		Status:          process.Status,
		CurrentStage:    process.CurrentStage,
		LMROApproval:    process.LMROApproval,
		DLMROApproval:   process.DLMROApproval,
		CEOApproval:     process.CEOApproval,
		RejectionReason: process.RejectionReason,
		RejectedAt:      process.RejectedAt,
		CanInitialize:   process.Status == models.ProcessStatusRejected && s.allowRestart,
		JobStatus:       job.Status,
	}, nil
}

// History returns the append-only event log for a job's process kind in
// commit order.
func (s *WorkflowService) History(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) ([]models.WorkflowEvent, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	return s.repo.ListEvents(ctx, kind, jobID)
}

// ListProcesses lists processes across jobs with optional kind/status
// filters. Backs the admin compliance dashboard.
func (s *WorkflowService) ListProcesses(ctx context.Context, kind, status string, limit, offset int) ([]models.ApprovalProcess, int64, error) {
	return s.repo.ListProcesses(ctx, kind, status, limit, offset)
}

// getOpenProcess loads the process for a job and verifies it can still
// transition.
func (s *WorkflowService) getOpenProcess(ctx context.Context, kind models.ProcessKind, jobID uuid.UUID) (*models.ApprovalProcess, error) {
	process, err := s.repo.GetProcessByJob(ctx, kind, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	if process.IsTerminal() {
		return nil, ErrProcessClosed
	}
	return process, nil
}
