package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// idempotency keys outlive any plausible client retry window
const idempotencyKeyTTL = 24 * time.Hour

// UsageService records and aggregates metered usage. Recording is
// append-only and never takes cross-record locks, so concurrent writers for
// the same tenant and feature do not contend.
type UsageService struct {
	scope       TransactionScope
	featureRepo billing.FeatureRepository
	tierRepo    billing.FeatureTierRepository
	idempotency IdempotencyStore
	auditor     *auditWriter
	logger      *zap.Logger
}

// NewUsageService creates a usage service
func NewUsageService(
	scope TransactionScope,
	featureRepo billing.FeatureRepository,
	tierRepo billing.FeatureTierRepository,
	idempotency IdempotencyStore,
	signer IntegritySigner,
	logger *zap.Logger,
) *UsageService {
	return &UsageService{
		scope:       scope,
		featureRepo: featureRepo,
		tierRepo:    tierRepo,
		idempotency: idempotency,
		auditor:     newAuditWriter(signer),
		logger:      logger,
	}
}

// RecordUsageInput describes one usage event
type RecordUsageInput struct {
	TenantID        uuid.UUID
	FeatureCodename string
	Quantity        decimal.Decimal
	EventTime       time.Time
	IdempotencyKey  string
	Actor           Actor
	SourceIP        string
	ReferenceID     string
}

// RecordUsage appends a usage record. A duplicate delivery carrying the same
// idempotency key is rejected with ALREADY_EXISTS. Usage for an
// already-invoiced period is rejected with PERIOD_CLOSED after writing a
// compensating adjustment picked up by the next invoice.
func (s *UsageService) RecordUsage(ctx context.Context, input RecordUsageInput) (*billing.UsageRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "record",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, input.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrFeature, input.FeatureCodename),
		telemetry.WithAttribute(telemetry.SpanAttrQuantity, input.Quantity.String()),
	)
	defer span.End()

	if input.TenantID == uuid.Nil {
		err := shared.ErrMissingTenantContext
		telemetry.RecordError(span, err)
		return nil, err
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		fresh, err := s.idempotency.Reserve(ctx, idempotencyKey(input), idempotencyKeyTTL)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if !fresh {
			telemetry.AddEvent(span, "duplicate_delivery_dropped")
			return nil, shared.ErrAlreadyExists
		}
	}

	feature, err := s.featureRepo.FindByCodename(ctx, input.FeatureCodename)
	if err != nil {
		s.releaseKey(ctx, input)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if feature == nil {
		s.releaseKey(ctx, input)
		return nil, shared.NewDomainError("NOT_FOUND", "Unknown feature codename")
	}
	if !feature.IsMetered() {
		s.releaseKey(ctx, input)
		return nil, shared.NewDomainError("INVALID_FEATURE_TYPE", "Usage can only be recorded for metered features")
	}

	record, err := billing.NewUsageRecord(input.TenantID, feature.ID, input.Quantity, input.EventTime)
	if err != nil {
		s.releaseKey(ctx, input)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if input.Actor.ID != nil {
		record.WithUser(*input.Actor.ID)
	}
	record.WithSource(input.SourceIP, input.ReferenceID)

	// The adjustment branch returns nil from the transaction so the
	// compensating write commits; the caller still gets PERIOD_CLOSED.
	var periodClosed bool
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		closed, err := repos.ClosedPeriods().FindCovering(ctx, input.TenantID, feature.ID, input.EventTime)
		if err != nil {
			return fmt.Errorf("failed to check closed periods: %w", err)
		}
		if closed != nil {
			// The period was already invoiced: history stays untouched and
			// the late usage becomes an adjustment billed next cycle.
			periodClosed = true
			adjustment, err := billing.NewUsageAdjustment(input.TenantID, feature.ID,
				input.Quantity, input.EventTime, closed.PeriodStart, closed.PeriodEnd,
				"usage reported after period close")
			if err != nil {
				return err
			}
			if err := repos.UsageAdjustments().Create(ctx, adjustment); err != nil {
				return fmt.Errorf("failed to store usage adjustment: %w", err)
			}
			return s.auditor.write(ctx, repos.AuditRecords(), input.TenantID, input.Actor,
				"usage.adjustment_created", audit.TargetKindBillingPeriod, closed.ID, nil, adjustment)
		}

		if err := repos.UsageRecords().Create(ctx, record); err != nil {
			return fmt.Errorf("failed to store usage record: %w", err)
		}
		return s.auditor.write(ctx, repos.AuditRecords(), input.TenantID, input.Actor,
			"usage.recorded", audit.TargetKindUsageRecord, record.ID, nil, record)
	})
	if err != nil {
		s.releaseKey(ctx, input)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if periodClosed {
		// the key stays reserved: a redelivery must not duplicate the adjustment
		err := shared.ErrPeriodClosed
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Debug("usage recorded",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("feature", feature.Codename),
		zap.String("quantity", record.Quantity.String()),
	)
	return record, nil
}

// releaseKey frees the idempotency key after a failed write so the client
// can retry with the same key
func (s *UsageService) releaseKey(ctx context.Context, input RecordUsageInput) {
	if input.IdempotencyKey == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Release(ctx, idempotencyKey(input)); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

func idempotencyKey(input RecordUsageInput) string {
	return fmt.Sprintf("usage:%s:%s", input.TenantID, input.IdempotencyKey)
}

// AggregateUsage sums a tenant's usage of one feature over [periodStart,
// periodEnd). Pure read; safe to re-run any number of times before the
// period is finalized.
func (s *UsageService) AggregateUsage(ctx context.Context, tenantID uuid.UUID, featureCodename string, periodStart, periodEnd time.Time) (*billing.AggregatedUsage, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "aggregate",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrFeature, featureCodename),
	)
	defer span.End()

	feature, err := s.featureRepo.FindByCodename(ctx, featureCodename)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if feature == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Unknown feature codename")
	}

	var agg *billing.AggregatedUsage
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		agg, err = repos.UsageRecords().SumForPeriod(ctx, tenantID, feature.ID, periodStart, periodEnd)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return agg, nil
}

// PreviewCharge prices a prospective quantity on top of the usage already
// recorded this period, without writing anything.
func (s *UsageService) PreviewCharge(ctx context.Context, tenantID uuid.UUID, featureCodename string, planPriceID uuid.UUID, quantity decimal.Decimal, periodStart time.Time) (decimal.Decimal, []billing.TierBreakdown, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "preview_charge")
	defer span.End()

	feature, err := s.featureRepo.FindByCodename(ctx, featureCodename)
	if err != nil {
		telemetry.RecordError(span, err)
		return decimal.Zero, nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if feature == nil {
		return decimal.Zero, nil, shared.NewDomainError("NOT_FOUND", "Unknown feature codename")
	}

	schedule, err := s.tierRepo.ScheduleFor(ctx, feature.ID, planPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return decimal.Zero, nil, err
	}

	var before decimal.Decimal
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		before, err = repos.UsageRecords().CumulativeBefore(ctx, tenantID, feature.ID, periodStart, time.Now())
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return decimal.Zero, nil, err
	}

	return schedule.Resolve(before, quantity)
}

// FinalizePeriod closes [periodStart, periodEnd) for the feature: from this
// point on, late usage for the period becomes adjustments instead of records.
func (s *UsageService) FinalizePeriod(ctx context.Context, tenantID uuid.UUID, featureCodename string, periodStart, periodEnd time.Time, actor Actor) (*billing.ClosedPeriod, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "finalize_period",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrFeature, featureCodename),
	)
	defer span.End()

	feature, err := s.featureRepo.FindByCodename(ctx, featureCodename)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if feature == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Unknown feature codename")
	}

	period, err := billing.NewClosedPeriod(tenantID, feature.ID, periodStart, periodEnd)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		existing, err := repos.ClosedPeriods().FindCovering(ctx, tenantID, feature.ID, periodStart)
		if err != nil {
			return err
		}
		if existing != nil {
			return shared.ErrPeriodClosed
		}
		if err := repos.ClosedPeriods().Create(ctx, period); err != nil {
			return fmt.Errorf("failed to close period: %w", err)
		}
		return s.auditor.write(ctx, repos.AuditRecords(), tenantID, actor,
			"usage.period_finalized", audit.TargetKindBillingPeriod, period.ID, nil, period)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("billing period finalized",
		zap.String("tenant_id", tenantID.String()),
		zap.String("feature", feature.Codename),
		zap.Time("period_end", periodEnd),
	)
	return period, nil
}
