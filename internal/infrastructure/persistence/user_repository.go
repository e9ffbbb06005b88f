package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	DisplayName  string    `gorm:"type:varchar(255)"`
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (UserModel) TableName() string {
	return "users"
}

// ToEntity converts the model to a domain entity
func (m *UserModel) ToEntity() *identity.User {
	return &identity.User{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		DisplayName:  m.DisplayName,
		IsActive:     m.IsActive,
	}
}

// UserModelFromEntity creates a model from a domain entity
func UserModelFromEntity(e *identity.User) *UserModel {
	return &UserModel{
		ID:           e.ID,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		DisplayName:  e.DisplayName,
		IsActive:     e.IsActive,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// TenantRoleModel is the GORM model for role assignments
type TenantRoleModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_roles_assignment"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_roles_assignment"`
	Role      string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_tenant_roles_assignment"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (TenantRoleModel) TableName() string {
	return "tenant_roles"
}

// UserRepository implements the identity.UserRepository interface
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Save creates or updates a user
func (r *UserRepository) Save(ctx context.Context, user *identity.User) error {
	model := UserModelFromEntity(user)
	err := r.db.WithContext(ctx).Save(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// FindByID retrieves a user by ID, or nil when it does not exist
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByEmail retrieves a user by email, or nil when it does not exist
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// AssignRole grants a role to a user within a tenant
func (r *UserRepository) AssignRole(ctx context.Context, assignment *identity.TenantRole) error {
	model := &TenantRoleModel{
		ID:        assignment.ID,
		UserID:    assignment.UserID,
		TenantID:  assignment.TenantID,
		Role:      string(assignment.Role),
		CreatedAt: assignment.CreatedAt,
		UpdatedAt: assignment.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// RolesForUser returns the user's roles within a tenant
func (r *UserRepository) RolesForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]identity.Role, error) {
	var models []TenantRoleModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	roles := make([]identity.Role, len(models))
	for i, model := range models {
		roles[i] = identity.Role(model.Role)
	}
	return roles, nil
}

// Ensure UserRepository implements the interface
var _ identity.UserRepository = (*UserRepository)(nil)
