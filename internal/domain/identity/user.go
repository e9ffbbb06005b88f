package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"golang.org/x/crypto/bcrypt"
)

// User represents a platform user. Users are attached to tenants through
// tenant role assignments.
type User struct {
	shared.BaseEntity
	Email        string
	PasswordHash string
	DisplayName  string
	IsActive     bool
}

// NormalizeEmail lowercases and trims an address so stored values and
// lookups agree on one canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser creates a user with a bcrypt-hashed password
func NewUser(email, password, displayName string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, shared.NewDomainError("INVALID_EMAIL", "A valid email address is required")
	}
	if len(password) < 8 {
		return nil, shared.NewDomainError("INVALID_PASSWORD", "Password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return &User{
		BaseEntity:   shared.NewBaseEntity(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		IsActive:     true,
	}, nil
}

// CheckPassword verifies a plaintext password against the stored hash
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Deactivate disables the user account
func (u *User) Deactivate() {
	u.IsActive = false
}

// TenantRole assigns a role to a user within a tenant
type TenantRole struct {
	shared.BaseEntity
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// NewTenantRole creates a role assignment
func NewTenantRole(userID, tenantID uuid.UUID, role Role) (*TenantRole, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !role.IsValid() {
		return nil, shared.NewDomainError("INVALID_ROLE", "Unknown role")
	}
	return &TenantRole{
		BaseEntity: shared.NewBaseEntity(),
		UserID:     userID,
		TenantID:   tenantID,
		Role:       role,
	}, nil
}
