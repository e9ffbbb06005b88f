package identity

import (
	"context"
	"fmt"

	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// AuthService authenticates users and issues tenant-scoped access tokens
type AuthService struct {
	userRepo   identity.UserRepository
	tenantRepo identity.TenantRepository
	jwtService *auth.JWTService
	logger     *zap.Logger
}

// NewAuthService creates an auth service
func NewAuthService(
	userRepo identity.UserRepository,
	tenantRepo identity.TenantRepository,
	jwtService *auth.JWTService,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tenantRepo: tenantRepo,
		jwtService: jwtService,
		logger:     logger,
	}
}

// RegisterInput contains input for user registration
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// Register creates a new user account
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*identity.User, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "auth", "register")
	defer span.End()

	email := identity.NormalizeEmail(input.Email)
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, shared.ErrAlreadyExists
	}

	user, err := identity.NewUser(input.Email, input.Password, input.DisplayName)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// LoginInput contains input for authentication
type LoginInput struct {
	Email      string
	Password   string
	TenantSlug string
}

// LoginResult carries the issued token and the authenticated identity
type LoginResult struct {
	Token  *auth.GeneratedToken
	User   *identity.User
	Tenant *identity.Tenant
	Roles  []identity.Role
}

// Login verifies credentials and issues a token scoped to one tenant. The
// user must hold at least one role there; a valid password with no role
// assignment is still FORBIDDEN.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "auth", "login")
	defer span.End()

	user, err := s.userRepo.FindByEmail(ctx, identity.NormalizeEmail(input.Email))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	// A missing user and a wrong password are indistinguishable to the caller
	if user == nil || !user.CheckPassword(input.Password) {
		return nil, shared.ErrUnauthorized
	}
	if !user.IsActive {
		return nil, shared.ErrUnauthorized
	}

	tenant, err := s.tenantRepo.FindBySlug(ctx, input.TenantSlug)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil || tenant.Status == identity.TenantStatusDeleted {
		return nil, shared.ErrUnauthorized
	}

	roles, err := s.userRepo.RolesForUser(ctx, tenant.ID, user.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, shared.ErrForbidden
	}

	token, err := s.jwtService.Generate(auth.GenerateTokenInput{
		TenantID: tenant.ID,
		UserID:   user.ID,
		Email:    user.Email,
		Roles:    roles,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", tenant.ID.String()),
	)
	return &LoginResult{Token: token, User: user, Tenant: tenant, Roles: roles}, nil
}
