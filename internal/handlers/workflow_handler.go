package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"compliance-service/internal/middleware"
	"compliance-service/internal/models"
	"compliance-service/internal/repository"
	"compliance-service/internal/services"
	"compliance-service/internal/storage"
)

// WorkflowHandler handles HTTP requests for one verification chain. Two
// instances are mounted, one for KYC and one for BRA; the routes and
// behavior are identical apart from the kind.
type WorkflowHandler struct {
	service  *services.WorkflowService
	uploader storage.Uploader
	kind     models.ProcessKind
}

// NewWorkflowHandler creates a new WorkflowHandler for a process kind
func NewWorkflowHandler(service *services.WorkflowService, uploader storage.Uploader, kind models.ProcessKind) *WorkflowHandler {
	return &WorkflowHandler{
		service:  service,
		uploader: uploader,
		kind:     kind,
	}
}

// RegisterRoutes mounts the chain's endpoints under rg, e.g. /api/v1/kyc.
// Initialization is additionally gated on the operations capability; stage
// authorization happens inside the engine where the process state is known.
func (h *WorkflowHandler) RegisterRoutes(rg *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	jobs := rg.Group("/jobs/:jobId")
	jobs.POST("/initialize", auth.RequirePermission("operationManagement"), h.Initialize)
	jobs.GET("/status", h.Status)
	jobs.GET("/history", h.History)
	for _, stage := range models.StageOrder {
		jobs.PUT(fmt.Sprintf("/%s-approve", stage), h.approveStage(stage))
	}
	jobs.PUT("/reject", h.Reject)
}

// Initialize starts the verification chain for a job
// @Summary Initialize a verification process
// @Tags Workflow
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 201 {object} models.ApprovalProcess
// @Router /api/v1/kyc/jobs/{jobId}/initialize [post]
func (h *WorkflowHandler) Initialize(c *gin.Context) {
	jobID, user, ok := h.requestContext(c)
	if !ok {
		return
	}

	process, err := h.service.Initialize(c.Request.Context(), h.kind, jobID, user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, process)
}

// Status reports the workflow state for a job
// @Summary Get verification process status
// @Tags Workflow
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} services.StatusDescriptor
// @Router /api/v1/kyc/jobs/{jobId}/status [get]
func (h *WorkflowHandler) Status(c *gin.Context) {
	jobID, _, ok := h.requestContext(c)
	if !ok {
		return
	}

	descriptor, err := h.service.Status(c.Request.Context(), h.kind, jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, descriptor)
}

// History returns the ordered event log for a job's chain
// @Summary Get verification process history
// @Tags Workflow
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {array} models.WorkflowEvent
// @Router /api/v1/kyc/jobs/{jobId}/history [get]
func (h *WorkflowHandler) History(c *gin.Context) {
	jobID, _, ok := h.requestContext(c)
	if !ok {
		return
	}

	history, err := h.service.History(c.Request.Context(), h.kind, jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// approveStage builds the handler for one stage's approve endpoint. The
// body is multipart: an optional notes field and a mandatory document file.
// The file is uploaded before the transition; if the transition then fails
// the orphaned object is harmless and unreferenced.
func (h *WorkflowHandler) approveStage(stage models.Stage) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, user, ok := h.requestContext(c)
		if !ok {
			return
		}

		fileHeader, err := c.FormFile("document")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrMissingDocument.Error()})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded document"})
			return
		}
		defer file.Close()

		document, err := h.uploader.Upload(c.Request.Context(), fileHeader.Filename, file, fileHeader.Header.Get("Content-Type"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document"})
			return
		}

		process, err := h.service.Approve(c.Request.Context(), h.kind, jobID, stage, user, services.ApproveInput{
			Notes:    c.PostForm("notes"),
			Document: document,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, process)
	}
}

// RejectRequest is the body for the reject endpoint
type RejectRequest struct {
	RejectionReason string `json:"rejectionReason" binding:"required"`
}

// Reject terminates the chain with a mandatory reason
// @Summary Reject a verification process
// @Tags Workflow
// @Accept json
// @Produce json
// @Param jobId path string true "Job ID"
// @Param request body RejectRequest true "Rejection"
// @Success 200 {object} models.ApprovalProcess
// @Router /api/v1/kyc/jobs/{jobId}/reject [put]
func (h *WorkflowHandler) Reject(c *gin.Context) {
	jobID, user, ok := h.requestContext(c)
	if !ok {
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrMissingReason.Error()})
		return
	}

	process, err := h.service.Reject(c.Request.Context(), h.kind, jobID, user, req.RejectionReason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, process)
}

// requestContext extracts the path job ID and the authenticated user. Writes
// the error response itself when either is unusable.
func (h *WorkflowHandler) requestContext(c *gin.Context) (uuid.UUID, *models.User, bool) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.Nil, nil, false
	}

	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, nil, false
	}

	return jobID, user, true
}

// respondError maps engine errors onto HTTP statuses. Guard failures are
// client errors; everything unexpected collapses to 500 without leaking
// internals.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, services.ErrJobNotFound),
		errors.Is(err, services.ErrProcessNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrMissingPermission),
		errors.Is(err, services.ErrWrongStage):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrMissingDocument),
		errors.Is(err, services.ErrMissingReason),
		errors.Is(err, services.ErrJobNotEligible),
		errors.Is(err, services.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrProcessExists),
		errors.Is(err, services.ErrProcessClosed),
		errors.Is(err, repository.ErrStageConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "An internal error occurred"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// AdminHandler serves the cross-job compliance views.
type AdminHandler struct {
	service *services.WorkflowService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service *services.WorkflowService) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListProcesses lists verification processes across all jobs
// @Summary List verification processes
// @Tags Admin
// @Produce json
// @Param kind query string false "Process kind (kyc or bra)"
// @Param status query string false "Process status filter"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/processes [get]
func (h *AdminHandler) ListProcesses(c *gin.Context) {
	kind := c.Query("kind")
	if kind != "" && !models.ProcessKind(kind).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid process kind"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	processes, total, err := h.service.ListProcesses(c.Request.Context(), kind, c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processes": processes,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}
