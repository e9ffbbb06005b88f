package identity

import (
	"context"

	"github.com/google/uuid"
)

// TenantRepository provides access to tenants
type TenantRepository interface {
	Save(ctx context.Context, tenant *Tenant) error
	Update(ctx context.Context, tenant *Tenant) error
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context, status *TenantStatus, page, pageSize int) ([]*Tenant, int64, error)
}

// UserRepository provides access to users and role assignments
type UserRepository interface {
	Save(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	AssignRole(ctx context.Context, assignment *TenantRole) error
	RolesForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]Role, error)
}
