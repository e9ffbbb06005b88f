package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// TrailService reads the audit trail and re-verifies record seals
type TrailService struct {
	records audit.RecordRepository
	signer  billing.IntegritySigner
	logger  *zap.Logger
}

// NewTrailService creates an audit trail service
func NewTrailService(records audit.RecordRepository, signer billing.IntegritySigner, logger *zap.Logger) *TrailService {
	return &TrailService{
		records: records,
		signer:  signer,
		logger:  logger,
	}
}

// ListByTenant returns the tenant's audit trail, newest first
func (s *TrailService) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "audit", "list_by_tenant",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	limit = clampPageSize(limit)
	if offset < 0 {
		offset = 0
	}

	records, err := s.records.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

// ListByTarget returns every record written against one target
func (s *TrailService) ListByTarget(ctx context.Context, tenantID uuid.UUID, kind audit.TargetKind, targetID uuid.UUID) ([]*audit.Record, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "audit", "list_by_target",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_TARGET_KIND", "Unknown audit target kind")
	}

	records, err := s.records.ListByTarget(ctx, tenantID, kind, targetID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

// VerifyRecord re-verifies one record's seal
func (s *TrailService) VerifyRecord(ctx context.Context, tenantID, recordID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "audit", "verify_record",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	record, err := s.records.FindByID(ctx, tenantID, recordID)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to load audit record: %w", err)
	}
	if record == nil {
		return shared.ErrNotFound
	}
	if err := s.signer.Verify(record); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// VerificationReport summarizes a trail verification sweep
type VerificationReport struct {
	Checked int
	Broken  []uuid.UUID
}

// Intact reports whether every checked record verified
func (r *VerificationReport) Intact() bool {
	return len(r.Broken) == 0
}

// VerifyTrail re-verifies the seals of the tenant's newest records, walking
// at most limit of them. Broken records are reported, not repaired: the trail
// is append-only and a broken seal is evidence, never something to overwrite.
func (s *TrailService) VerifyTrail(ctx context.Context, tenantID uuid.UUID, limit int) (*VerificationReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "audit", "verify_trail",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	limit = clampPageSize(limit)

	records, err := s.records.ListByTenant(ctx, tenantID, limit, 0)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	report := &VerificationReport{Checked: len(records)}
	for _, record := range records {
		if err := s.signer.Verify(record); err != nil {
			s.logger.Warn("audit record failed verification",
				zap.String("tenant_id", tenantID.String()),
				zap.String("record_id", record.ID.String()),
				zap.String("action", record.Action),
			)
			report.Broken = append(report.Broken, record.ID)
		}
	}
	return report, nil
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
