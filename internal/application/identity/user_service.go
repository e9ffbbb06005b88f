package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// UserService manages user accounts and tenant role assignments
type UserService struct {
	userRepo identity.UserRepository
	logger   *zap.Logger
}

// NewUserService creates a user service
func NewUserService(userRepo identity.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		logger:   logger,
	}
}

// Get loads a user by ID
func (s *UserService) Get(ctx context.Context, userID uuid.UUID) (*identity.User, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "user", "get")
	defer span.End()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

// GetByEmail loads a user by email
func (s *UserService) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "user", "get_by_email")
	defer span.End()

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

// Deactivate disables a user account. Existing tokens expire on their own;
// the auth middleware rejects deactivated users on the next lookup.
func (s *UserService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "user", "deactivate")
	defer span.End()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return shared.ErrNotFound
	}

	user.Deactivate()
	if err := s.userRepo.Save(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Info("user deactivated", zap.String("user_id", userID.String()))
	return nil
}

// AssignRole grants a user a role within a tenant
func (s *UserService) AssignRole(ctx context.Context, tenantID, userID uuid.UUID, role identity.Role) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "user", "assign_role")
	defer span.End()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return shared.ErrNotFound
	}

	assignment, err := identity.NewTenantRole(userID, tenantID, role)
	if err != nil {
		return err
	}
	if err := s.userRepo.AssignRole(ctx, assignment); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	s.logger.Info("role assigned",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)),
	)
	return nil
}

// RolesForUser returns the roles a user holds within a tenant
func (s *UserService) RolesForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]identity.Role, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "user", "roles_for_user")
	defer span.End()

	roles, err := s.userRepo.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	return roles, nil
}
