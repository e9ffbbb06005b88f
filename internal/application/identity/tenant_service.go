package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TenantService manages the tenant lifecycle
type TenantService struct {
	tenantRepo identity.TenantRepository
	logger     *zap.Logger
}

// NewTenantService creates a tenant service
func NewTenantService(tenantRepo identity.TenantRepository, logger *zap.Logger) *TenantService {
	return &TenantService{
		tenantRepo: tenantRepo,
		logger:     logger,
	}
}

// CreateTenantInput contains input for tenant creation
type CreateTenantInput struct {
	Name            string
	Slug            string
	Domain          *string
	BillingStrategy identity.BillingStrategy
}

// Create provisions a new tenant in pending_setup status
func (s *TenantService) Create(ctx context.Context, input CreateTenantInput) (*identity.Tenant, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "tenant", "create")
	defer span.End()

	tenant, err := identity.NewTenant(input.Name, input.Slug, input.BillingStrategy)
	if err != nil {
		return nil, err
	}
	tenant.Domain = input.Domain

	if err := s.tenantRepo.Save(ctx, tenant); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save tenant: %w", err)
	}

	s.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.String("billing_strategy", string(tenant.BillingStrategy)),
	)
	return tenant, nil
}

// Activate transitions a tenant to active
func (s *TenantService) Activate(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	return s.transition(ctx, "activate", tenantID, func(t *identity.Tenant) error {
		return t.Activate()
	})
}

// StartTrial transitions a pending tenant to trial
func (s *TenantService) StartTrial(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	return s.transition(ctx, "start_trial", tenantID, func(t *identity.Tenant) error {
		return t.StartTrial()
	})
}

// Suspend suspends an active or trial tenant
func (s *TenantService) Suspend(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	return s.transition(ctx, "suspend", tenantID, func(t *identity.Tenant) error {
		return t.Suspend()
	})
}

// SoftDelete marks a tenant as deleted while retaining its billing history
func (s *TenantService) SoftDelete(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	return s.transition(ctx, "soft_delete", tenantID, func(t *identity.Tenant) error {
		return t.SoftDelete()
	})
}

// GrantCreditLine allows the tenant's balance to go negative down to floor
func (s *TenantService) GrantCreditLine(ctx context.Context, tenantID uuid.UUID, floor decimal.Decimal) (*identity.Tenant, error) {
	return s.transition(ctx, "grant_credit_line", tenantID, func(t *identity.Tenant) error {
		if _, err := t.WithCreditLine(floor); err != nil {
			return err
		}
		t.IncrementVersion()
		return nil
	})
}

// transition loads a tenant, applies a state change, and persists it under
// optimistic locking
func (s *TenantService) transition(ctx context.Context, operation string, tenantID uuid.UUID, apply func(*identity.Tenant) error) (*identity.Tenant, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "tenant", operation)
	defer span.End()

	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, shared.ErrNotFound
	}

	if err := apply(tenant); err != nil {
		return nil, err
	}

	if err := s.tenantRepo.Update(ctx, tenant); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("tenant updated",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("operation", operation),
		zap.String("status", string(tenant.Status)),
	)
	return tenant, nil
}

// Get loads a tenant by ID
func (s *TenantService) Get(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "tenant", "get")
	defer span.End()

	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, shared.ErrNotFound
	}
	return tenant, nil
}

// GetBySlug loads a tenant by slug
func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "tenant", "get_by_slug")
	defer span.End()

	tenant, err := s.tenantRepo.FindBySlug(ctx, slug)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, shared.ErrNotFound
	}
	return tenant, nil
}

// List returns a page of tenants, optionally filtered by status
func (s *TenantService) List(ctx context.Context, status *identity.TenantStatus, page, pageSize int) ([]*identity.Tenant, int64, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "tenant", "list")
	defer span.End()

	tenants, total, err := s.tenantRepo.List(ctx, status, page, pageSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, total, nil
}
