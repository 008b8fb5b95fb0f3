package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is an authenticated actor. Every user references exactly one role;
// all workflow authorization derives from that role's permission document.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Email     string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"type:varchar(255);not null" json:"-"`
	RoleID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"roleId"`
	Role      *Role          `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// SetPassword hashes and stores the given plaintext password.
func (u *User) SetPassword(plain string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashed)
	return nil
}

// CheckPassword compares a plaintext candidate against the stored hash.
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}

// CanActAtStage reports whether the user may approve or reject at the given
// stage of a verification chain: either the role carries that stage's flag or
// the role is admin. Admin substitutes for the stage's approver only; it does
// not allow skipping ahead.
func (u *User) CanActAtStage(kind ProcessKind, stage Stage) bool {
	if u == nil || u.Role == nil {
		return false
	}
	if u.Role.IsAdmin() {
		return true
	}
	return u.Role.Permissions.ForKind(kind).ForStage(stage)
}

// HasPermission resolves a dot-delimited permission path against the user's
// role. Admin passes every check.
func (u *User) HasPermission(path string) bool {
	if u == nil || u.Role == nil {
		return false
	}
	if u.Role.IsAdmin() {
		return true
	}
	return u.Role.Permissions.Resolve(path)
}
