package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Save(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *mockUserRepository) AssignRole(ctx context.Context, assignment *identity.TenantRole) error {
	args := m.Called(ctx, assignment)
	return args.Error(0)
}

func (m *mockUserRepository) RolesForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]identity.Role, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Role), args.Error(1)
}

type mockTenantRepository struct {
	mock.Mock
}

func (m *mockTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockTenantRepository) Update(ctx context.Context, tenant *identity.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) FindBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) List(ctx context.Context, status *identity.TenantStatus, page, pageSize int) ([]*identity.Tenant, int64, error) {
	args := m.Called(ctx, status, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*identity.Tenant), args.Get(1).(int64), args.Error(2)
}

func testJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-for-auth-service",
		AccessTokenExpiration: time.Hour,
		Issuer:                "test",
	})
}

func activeTenant(t *testing.T, slug string) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant("Acme Corp", slug, identity.BillingStrategyHybrid)
	require.NoError(t, err)
	require.NoError(t, tenant.Activate())
	return tenant
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("registers a new user", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(nil, nil)
		userRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

		user, err := service.Register(ctx, RegisterInput{
			Email:       "Ada@Example.com",
			Password:    "correct horse",
			DisplayName: "Ada",
		})
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.True(t, user.CheckPassword("correct horse"))
		userRepo.AssertExpectations(t)
	})

	t.Run("rejects a taken email", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		existing, err := identity.NewUser("ada@example.com", "some password", "Ada")
		require.NoError(t, err)
		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(existing, nil)

		_, err = service.Register(ctx, RegisterInput{
			Email:       "ada@example.com",
			Password:    "correct horse",
			DisplayName: "Ada",
		})
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
		userRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("rejects a case-variant of a taken email", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		existing, err := identity.NewUser("ada@example.com", "some password", "Ada")
		require.NoError(t, err)
		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(existing, nil)

		_, err = service.Register(ctx, RegisterInput{
			Email:       "  ADA@Example.COM ",
			Password:    "correct horse",
			DisplayName: "Ada",
		})
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
		userRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("rejects a short password", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(nil, nil)

		_, err := service.Register(ctx, RegisterInput{
			Email:       "ada@example.com",
			Password:    "short",
			DisplayName: "Ada",
		})
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_PASSWORD", domainErr.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	newUser := func(t *testing.T) *identity.User {
		t.Helper()
		user, err := identity.NewUser("ada@example.com", "correct horse", "Ada")
		require.NoError(t, err)
		return user
	}

	t.Run("issues a tenant-scoped token", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		tenantRepo := new(mockTenantRepository)
		jwtService := testJWTService()
		service := NewAuthService(userRepo, tenantRepo, jwtService, zap.NewNop())

		user := newUser(t)
		tenant := activeTenant(t, "acme")
		roles := []identity.Role{identity.RoleBilling}

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(user, nil)
		tenantRepo.On("FindBySlug", mock.Anything, "acme").Return(tenant, nil)
		userRepo.On("RolesForUser", mock.Anything, tenant.ID, user.ID).Return(roles, nil)

		result, err := service.Login(ctx, LoginInput{
			Email:      "ada@example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		require.NoError(t, err)
		assert.Equal(t, "Bearer", result.Token.TokenType)
		assert.Equal(t, roles, result.Roles)

		claims, err := jwtService.Validate(result.Token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID.String(), claims.TenantID)
		assert.Equal(t, user.ID.String(), claims.UserID)
		assert.True(t, claims.Can(identity.CapabilityBuildInvoice))
		assert.False(t, claims.Can(identity.CapabilityManageTenant))
	})

	t.Run("email comparison ignores case", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		tenantRepo := new(mockTenantRepository)
		service := NewAuthService(userRepo, tenantRepo, testJWTService(), zap.NewNop())

		user := newUser(t)
		tenant := activeTenant(t, "acme")

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(user, nil)
		tenantRepo.On("FindBySlug", mock.Anything, "acme").Return(tenant, nil)
		userRepo.On("RolesForUser", mock.Anything, tenant.ID, user.ID).Return([]identity.Role{identity.RoleMember}, nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "Ada@Example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		require.NoError(t, err)
		userRepo.AssertExpectations(t)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(newUser(t), nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "ada@example.com",
			Password:   "wrong horse",
			TenantSlug: "acme",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})

	t.Run("unknown user is unauthorized", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		userRepo.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "ghost@example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})

	t.Run("deactivated user is unauthorized", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		service := NewAuthService(userRepo, new(mockTenantRepository), testJWTService(), zap.NewNop())

		user := newUser(t)
		user.Deactivate()
		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(user, nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "ada@example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})

	t.Run("deleted tenant is unauthorized", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		tenantRepo := new(mockTenantRepository)
		service := NewAuthService(userRepo, tenantRepo, testJWTService(), zap.NewNop())

		tenant := activeTenant(t, "acme")
		require.NoError(t, tenant.SoftDelete())

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(newUser(t), nil)
		tenantRepo.On("FindBySlug", mock.Anything, "acme").Return(tenant, nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "ada@example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})

	t.Run("no role in the tenant is forbidden", func(t *testing.T) {
		userRepo := new(mockUserRepository)
		tenantRepo := new(mockTenantRepository)
		service := NewAuthService(userRepo, tenantRepo, testJWTService(), zap.NewNop())

		user := newUser(t)
		tenant := activeTenant(t, "acme")

		userRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(user, nil)
		tenantRepo.On("FindBySlug", mock.Anything, "acme").Return(tenant, nil)
		userRepo.On("RolesForUser", mock.Anything, tenant.ID, user.ID).Return([]identity.Role{}, nil)

		_, err := service.Login(ctx, LoginInput{
			Email:      "ada@example.com",
			Password:   "correct horse",
			TenantSlug: "acme",
		})
		assert.ErrorIs(t, err, shared.ErrForbidden)
	})
}
