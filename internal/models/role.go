package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// System role names assumed to exist after seeding
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// EditorViewer holds the edit/view capability pair used by client-management
// sub-domains.
type EditorViewer struct {
	Editor bool `json:"editor"`
	Viewer bool `json:"viewer"`
}

// ClientPermissions groups the per-section capabilities over client records.
type ClientPermissions struct {
	CompanyDetails EditorViewer `json:"companyDetails"`
	Shareholders   EditorViewer `json:"shareholders"`
	Directors      EditorViewer `json:"directors"`
	Contacts       EditorViewer `json:"contacts"`
}

// StagePermissions holds the three independent stage flags of a verification
// chain. LMRO, DLMRO and CEO are separate capabilities, not a hierarchy.
type StagePermissions struct {
	LMRO  bool `json:"lmro"`
	DLMRO bool `json:"dlmro"`
	CEO   bool `json:"ceo"`
}

// ForStage returns the flag for a workflow stage. Unknown stages are denied.
func (s StagePermissions) ForStage(stage Stage) bool {
	switch stage {
	case StageLMRO:
		return s.LMRO
	case StageDLMRO:
		return s.DLMRO
	case StageCEO:
		return s.CEO
	}
	return false
}

// Permissions is the typed permission document attached to a Role. A zero
// value denies everything; a flag must be explicitly true to grant.
type Permissions struct {
	UserManagement       bool              `json:"userManagement"`
	OperationManagement  bool              `json:"operationManagement"`
	DocumentManagement   bool              `json:"documentManagement"`
	RenewalManagement    bool              `json:"renewalManagement"`
	ComplianceManagement bool              `json:"complianceManagement"`
	RequestService       bool              `json:"requestService"`
	ClientManagement     ClientPermissions `json:"clientManagement"`
	KYCManagement        StagePermissions  `json:"kycManagement"`
	BRAManagement        StagePermissions  `json:"braManagement"`
}

// ForKind returns the stage permission set for a process kind.
func (p Permissions) ForKind(kind ProcessKind) StagePermissions {
	switch kind {
	case KindKYC:
		return p.KYCManagement
	case KindBRA:
		return p.BRAManagement
	}
	return StagePermissions{}
}

// Resolve evaluates a dot-delimited permission path such as
// "kycManagement.lmro" or "userManagement". It returns true only when the
// path terminates on a flag that is explicitly true; any missing segment,
// trailing segment, or non-leaf terminal resolves to false. The lookup is
// pure so middleware and capability endpoints share identical semantics.
func (p Permissions) Resolve(path string) bool {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "userManagement":
		return len(parts) == 1 && p.UserManagement
	case "operationManagement":
		return len(parts) == 1 && p.OperationManagement
	case "documentManagement":
		return len(parts) == 1 && p.DocumentManagement
	case "renewalManagement":
		return len(parts) == 1 && p.RenewalManagement
	case "complianceManagement":
		return len(parts) == 1 && p.ComplianceManagement
	case "requestService":
		return len(parts) == 1 && p.RequestService
	case "clientManagement":
		if len(parts) != 3 {
			return false
		}
		return resolveEditorViewer(p.ClientManagement, parts[1], parts[2])
	case "kycManagement":
		if len(parts) != 2 {
			return false
		}
		return resolveStage(p.KYCManagement, parts[1])
	case "braManagement":
		if len(parts) != 2 {
			return false
		}
		return resolveStage(p.BRAManagement, parts[1])
	}
	return false
}

func resolveStage(s StagePermissions, key string) bool {
	switch key {
	case "lmro":
		return s.LMRO
	case "dlmro":
		return s.DLMRO
	case "ceo":
		return s.CEO
	}
	return false
}

func resolveEditorViewer(c ClientPermissions, section, capability string) bool {
	var ev EditorViewer
	switch section {
	case "companyDetails":
		ev = c.CompanyDetails
	case "shareholders":
		ev = c.Shareholders
	case "directors":
		ev = c.Directors
	case "contacts":
		ev = c.Contacts
	default:
		return false
	}
	switch capability {
	case "editor":
		return ev.Editor
	case "viewer":
		return ev.Viewer
	}
	return false
}

// Role binds a unique name to a permission document. Roles are referenced by
// users and never embedded, so a permission change takes effect for every
// holder on their next request.
type Role struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string         `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description,omitempty"`
	IsSystem    bool           `gorm:"default:false" json:"isSystem"`
	Permissions Permissions    `gorm:"type:jsonb;serializer:json" json:"permissions"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for Role
func (Role) TableName() string {
	return "roles"
}

// IsAdmin reports whether the role is the seeded administrator role, which
// bypasses stage ownership and may act at whatever the current stage is.
func (r *Role) IsAdmin() bool {
	return r != nil && r.Name == RoleAdmin
}
