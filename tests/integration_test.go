//go:build integration
// +build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"compliance-service/internal/auth"
	"compliance-service/internal/handlers"
	"compliance-service/internal/middleware"
	"compliance-service/internal/models"
	"compliance-service/internal/repository"
	"compliance-service/internal/seeders"
	"compliance-service/internal/services"
	"compliance-service/internal/storage"
)

// WorkflowIntegrationSuite drives the full HTTP stack against a real
// Postgres: token auth, role permissions, both verification chains and the
// job status projection.
type WorkflowIntegrationSuite struct {
	suite.Suite
	db          *gorm.DB
	router      *gin.Engine
	tokens      *auth.TokenManager
	processRepo *repository.ProcessRepository

	users map[string]*models.User
}

func (s *WorkflowIntegrationSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=compliance_service_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db

	err = s.db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Job{},
		&models.ApprovalProcess{},
		&models.WorkflowEvent{},
	)
	if err != nil {
		s.T().Fatalf("Failed to run migrations: %v", err)
	}
	if err := repository.EnsureActiveProcessIndex(s.db); err != nil {
		s.T().Fatalf("Failed to create active process index: %v", err)
	}

	if err := seeders.SeedSystemRoles(s.db); err != nil {
		s.T().Fatalf("Failed to seed roles: %v", err)
	}

	processRepo := repository.NewProcessRepository(s.db)
	s.processRepo = processRepo
	userRepo := repository.NewUserRepository(s.db)
	service := services.NewWorkflowService(processRepo, nil, true)
	uploader := storage.NewLocalStore(s.T().TempDir())

	s.tokens = auth.NewTokenManager("integration-secret", time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(s.tokens, userRepo)

	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	api := s.router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	handlers.NewWorkflowHandler(service, uploader, models.KindKYC).RegisterRoutes(api.Group("/kyc"), authMiddleware)
	handlers.NewWorkflowHandler(service, uploader, models.KindBRA).RegisterRoutes(api.Group("/bra"), authMiddleware)

	admin := api.Group("/admin")
	admin.Use(authMiddleware.RequireRole(models.RoleAdmin))
	admin.GET("/processes", handlers.NewAdminHandler(service).ListProcesses)

	s.users = map[string]*models.User{}
	for _, roleName := range []string{models.RoleAdmin, "compliance_lmro", "compliance_dlmro", "compliance_ceo", models.RoleCustomer} {
		s.users[roleName] = s.createUser(roleName)
	}
}

func (s *WorkflowIntegrationSuite) TearDownSuite() {
	s.db.Exec("DELETE FROM workflow_events")
	s.db.Exec("DELETE FROM approval_processes")
	s.db.Exec("DELETE FROM jobs")
	s.db.Exec("DELETE FROM users")
}

func (s *WorkflowIntegrationSuite) createUser(roleName string) *models.User {
	var role models.Role
	if err := s.db.Where("name = ?", roleName).First(&role).Error; err != nil {
		s.T().Fatalf("Role %s not seeded: %v", roleName, err)
	}

	user := &models.User{
		Name:   roleName + " user",
		Email:  fmt.Sprintf("%s-%s@example.com", roleName, uuid.New().String()[:8]),
		RoleID: role.ID,
	}
	s.Require().NoError(user.SetPassword("test-password"))
	s.Require().NoError(s.db.Create(user).Error)
	return user
}

func (s *WorkflowIntegrationSuite) createJob(status string) *models.Job {
	job := &models.Job{Status: status}
	s.Require().NoError(s.db.Create(job).Error)
	return job
}

// do performs an authenticated request as the given role.
func (s *WorkflowIntegrationSuite) do(role, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, path, body)
	s.Require().NoError(err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	token, err := s.tokens.Sign(s.users[role].ID)
	s.Require().NoError(err)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *WorkflowIntegrationSuite) approveBody() (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	s.Require().NoError(writer.WriteField("notes", "reviewed"))
	part, err := writer.CreateFormFile("document", "evidence.pdf")
	s.Require().NoError(err)
	_, err = part.Write([]byte("%PDF-1.4 evidence"))
	s.Require().NoError(err)
	s.Require().NoError(writer.Close())
	return body, writer.FormDataContentType()
}

func (s *WorkflowIntegrationSuite) jobStatus(jobID uuid.UUID) string {
	var job models.Job
	s.Require().NoError(s.db.First(&job, "id = ?", jobID).Error)
	return job.Status
}

func (s *WorkflowIntegrationSuite) TestFullKYCChain() {
	job := s.createJob(models.JobStatusOMCompleted)
	base := "/api/v1/kyc/jobs/" + job.ID.String()

	w := s.do("compliance_lmro", "POST", base+"/initialize", nil, "")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.Equal(models.JobStatusKYCPending, s.jobStatus(job.ID))

	// Second initialize conflicts.
	w = s.do("compliance_lmro", "POST", base+"/initialize", nil, "")
	s.Equal(http.StatusConflict, w.Code)

	// DLMRO cannot act before LMRO.
	body, contentType := s.approveBody()
	w = s.do("compliance_dlmro", "PUT", base+"/dlmro-approve", body, contentType)
	s.Equal(http.StatusForbidden, w.Code)

	for _, step := range []struct {
		role string
		path string
	}{
		{"compliance_lmro", "/lmro-approve"},
		{"compliance_dlmro", "/dlmro-approve"},
		{"compliance_ceo", "/ceo-approve"},
	} {
		body, contentType := s.approveBody()
		w = s.do(step.role, "PUT", base+step.path, body, contentType)
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	}

	var process models.ApprovalProcess
	s.Require().NoError(s.db.First(&process, "job_id = ?", job.ID).Error)
	s.Equal(models.ProcessStatusCompleted, process.Status)
	s.NotNil(process.CEOApproval)
	s.Equal(models.JobStatusKYCCompleted, s.jobStatus(job.ID))

	// Completed KYC makes the job eligible for BRA.
	w = s.do("compliance_lmro", "POST", "/api/v1/bra/jobs/"+job.ID.String()+"/initialize", nil, "")
	s.Equal(http.StatusCreated, w.Code, w.Body.String())
	s.Equal(models.JobStatusBRAPending, s.jobStatus(job.ID))

	// History has one entry per committed transition.
	w = s.do("compliance_ceo", "GET", base+"/history", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var history []models.WorkflowEvent
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &history))
	s.Len(history, 4)
	s.Equal(models.EventActionInitialized, history[0].Action)
}

func (s *WorkflowIntegrationSuite) TestRejectAndRestart() {
	job := s.createJob(models.JobStatusOMCompleted)
	base := "/api/v1/kyc/jobs/" + job.ID.String()

	w := s.do(models.RoleAdmin, "POST", base+"/initialize", nil, "")
	s.Require().Equal(http.StatusCreated, w.Code)

	// Empty reason is rejected.
	w = s.do("compliance_lmro", "PUT", base+"/reject", bytes.NewBufferString(`{}`), "application/json")
	s.Equal(http.StatusBadRequest, w.Code)

	payload := bytes.NewBufferString(`{"rejectionReason":"incomplete documents"}`)
	w = s.do("compliance_lmro", "PUT", base+"/reject", payload, "application/json")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	// Terminal process refuses further approvals.
	body, contentType := s.approveBody()
	w = s.do("compliance_lmro", "PUT", base+"/lmro-approve", body, contentType)
	s.Equal(http.StatusConflict, w.Code)

	// Status reports the rejection and restart eligibility.
	w = s.do("compliance_lmro", "GET", base+"/status", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var descriptor services.StatusDescriptor
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &descriptor))
	s.True(descriptor.Exists)
	s.Equal(models.ProcessStatusRejected, descriptor.Status)
	s.Equal("incomplete documents", descriptor.RejectionReason)
	s.True(descriptor.CanInitialize)

	// A fresh chain can start over.
	w = s.do(models.RoleAdmin, "POST", base+"/initialize", nil, "")
	s.Equal(http.StatusCreated, w.Code, w.Body.String())
}

func (s *WorkflowIntegrationSuite) TestActiveProcessUniqueness() {
	job := s.createJob(models.JobStatusOMCompleted)

	w := s.do(models.RoleAdmin, "POST", "/api/v1/kyc/jobs/"+job.ID.String()+"/initialize", nil, "")
	s.Require().Equal(http.StatusCreated, w.Code)

	// A second non-rejected row for the same (job, kind) must lose at the
	// database even when it bypasses the engine's existence check.
	stray := &models.ApprovalProcess{
		Kind:         string(models.KindKYC),
		JobID:        job.ID,
		Status:       models.ProcessStatusInProgress,
		CurrentStage: models.StageLMRO,
		Version:      1,
	}
	err := s.processRepo.CreateProcess(context.Background(), stray)
	s.ErrorIs(err, repository.ErrDuplicateProcess)

	var count int64
	s.Require().NoError(s.db.Model(&models.ApprovalProcess{}).
		Where("job_id = ? AND status <> ?", job.ID, models.ProcessStatusRejected).
		Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *WorkflowIntegrationSuite) TestPermissionBoundaries() {
	job := s.createJob(models.JobStatusOMCompleted)
	base := "/api/v1/kyc/jobs/" + job.ID.String()

	// Customers cannot initialize.
	w := s.do(models.RoleCustomer, "POST", base+"/initialize", nil, "")
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do("compliance_lmro", "POST", base+"/initialize", nil, "")
	s.Require().Equal(http.StatusCreated, w.Code)

	// CEO cannot approve the LMRO stage.
	body, contentType := s.approveBody()
	w = s.do("compliance_ceo", "PUT", base+"/lmro-approve", body, contentType)
	s.Equal(http.StatusForbidden, w.Code)

	// Admin substitutes for the current stage approver.
	body, contentType = s.approveBody()
	w = s.do(models.RoleAdmin, "PUT", base+"/lmro-approve", body, contentType)
	s.Equal(http.StatusOK, w.Code, w.Body.String())

	// Admin feed is closed to non-admins.
	w = s.do("compliance_lmro", "GET", "/api/v1/admin/processes", nil, "")
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(models.RoleAdmin, "GET", "/api/v1/admin/processes?kind=kyc", nil, "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *WorkflowIntegrationSuite) TestUnauthenticated() {
	job := s.createJob(models.JobStatusOMCompleted)

	req, _ := http.NewRequest("GET", "/api/v1/kyc/jobs/"+job.ID.String()+"/status", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func TestWorkflowIntegrationSuite(t *testing.T) {
	suite.Run(t, new(WorkflowIntegrationSuite))
}
