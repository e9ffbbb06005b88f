package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Service manages subscription lifecycle and coupon redemption
type Service struct {
	subRepo    subscription.SubscriptionRepository
	planRepo   subscription.PlanRepository
	priceRepo  subscription.PlanPriceRepository
	couponRepo subscription.CouponRepository
	tenantRepo identity.TenantRepository
	logger     *zap.Logger
}

// NewService creates a subscription service
func NewService(
	subRepo subscription.SubscriptionRepository,
	planRepo subscription.PlanRepository,
	priceRepo subscription.PlanPriceRepository,
	couponRepo subscription.CouponRepository,
	tenantRepo identity.TenantRepository,
	logger *zap.Logger,
) *Service {
	return &Service{
		subRepo:    subRepo,
		planRepo:   planRepo,
		priceRepo:  priceRepo,
		couponRepo: couponRepo,
		tenantRepo: tenantRepo,
		logger:     logger,
	}
}

// Create opens a pending subscription for a tenant on a plan price
func (s *Service) Create(ctx context.Context, tenantID, planID, planPriceID uuid.UUID) (*subscription.Subscription, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "subscription", "create",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, shared.ErrNotFound
	}

	plan, err := s.planRepo.FindByID(ctx, planID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if plan == nil || !plan.Active {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan does not exist or is inactive")
	}
	price, err := s.priceRepo.FindByID(ctx, planPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan price: %w", err)
	}
	if price == nil || price.PlanID != planID {
		return nil, shared.NewDomainError("INVALID_PLAN", "Price does not belong to the plan")
	}

	sub, err := subscription.NewSubscription(tenantID, planID, planPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.subRepo.Save(ctx, sub); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}
	if err := s.recordEvent(ctx, sub, subscription.EventKindCreated, nil, &planID, ""); err != nil {
		return nil, err
	}
	return sub, nil
}

// Activate starts the subscription's first billing period
func (s *Service) Activate(ctx context.Context, tenantID, subID uuid.UUID, periodStart time.Time) (*subscription.Subscription, error) {
	return s.mutate(ctx, tenantID, subID, subscription.EventKindActivated, func(sub *subscription.Subscription, period subscription.BillingPeriod) error {
		return sub.Activate(periodStart, period)
	})
}

// StartTrial puts a pending subscription into trial until trialEnd
func (s *Service) StartTrial(ctx context.Context, tenantID, subID uuid.UUID, trialEnd time.Time) (*subscription.Subscription, error) {
	return s.mutate(ctx, tenantID, subID, subscription.EventKindTrialed, func(sub *subscription.Subscription, _ subscription.BillingPeriod) error {
		return sub.StartTrial(trialEnd)
	})
}

// Cancel cancels immediately or at period end
func (s *Service) Cancel(ctx context.Context, tenantID, subID uuid.UUID, atPeriodEnd bool) (*subscription.Subscription, error) {
	return s.mutate(ctx, tenantID, subID, subscription.EventKindCanceled, func(sub *subscription.Subscription, _ subscription.BillingPeriod) error {
		return sub.Cancel(atPeriodEnd)
	})
}

// Renew advances the subscription into its next billing period
func (s *Service) Renew(ctx context.Context, tenantID, subID uuid.UUID) (*subscription.Subscription, error) {
	return s.mutate(ctx, tenantID, subID, subscription.EventKindRenewed, func(sub *subscription.Subscription, period subscription.BillingPeriod) error {
		return sub.Renew(period)
	})
}

// RedeemCoupon validates redeemability and attaches the coupon's discount to
// the subscription. The redemption counter and the discount are persisted
// together only when both writes succeed.
func (s *Service) RedeemCoupon(ctx context.Context, tenantID, subID uuid.UUID, code string) (*subscription.Discount, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "subscription", "redeem_coupon",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	sub, err := s.subRepo.FindByID(ctx, tenantID, subID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, shared.ErrNotFound
	}

	coupon, err := s.couponRepo.FindByCode(ctx, code)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	if coupon == nil {
		return nil, shared.ErrNotFound
	}

	now := time.Now()
	if err := coupon.Redeem(now); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	discount, err := subscription.NewDiscount(tenantID, subID, coupon, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := s.couponRepo.Save(ctx, coupon); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist coupon redemption: %w", err)
	}
	if err := s.couponRepo.SaveDiscount(ctx, discount); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist discount: %w", err)
	}

	s.logger.Info("coupon redeemed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("coupon", coupon.Code),
	)
	return discount, nil
}

// mutate loads, transitions and persists a subscription, recording a history
// event for the transition
func (s *Service) mutate(ctx context.Context, tenantID, subID uuid.UUID, kind subscription.EventKind, fn func(*subscription.Subscription, subscription.BillingPeriod) error) (*subscription.Subscription, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "subscription", string(kind),
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSubscriptionID, subID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}

	sub, err := s.subRepo.FindByID(ctx, tenantID, subID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, shared.ErrNotFound
	}

	price, err := s.priceRepo.FindByID(ctx, sub.PlanPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan price: %w", err)
	}
	if price == nil {
		return nil, shared.NewDomainError("INVALID_PLAN", "Subscription references a missing price")
	}

	if err := fn(sub, price.Period); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.subRepo.Save(ctx, sub); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}
	if err := s.recordEvent(ctx, sub, kind, nil, nil, ""); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) recordEvent(ctx context.Context, sub *subscription.Subscription, kind subscription.EventKind, fromPlan, toPlan *uuid.UUID, note string) error {
	event := &subscription.Event{
		BaseEntity:     shared.NewBaseEntity(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Kind:           kind,
		FromPlanID:     fromPlan,
		ToPlanID:       toPlan,
		Note:           note,
	}
	if err := s.subRepo.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record subscription event: %w", err)
	}
	return nil
}

// ChangePlan moves an active or trialing subscription to another plan price,
// effective immediately. The direction (upgrade vs downgrade) is recorded by
// comparing price amounts.
func (s *Service) ChangePlan(ctx context.Context, tenantID, subID, planID, planPriceID uuid.UUID) (*subscription.Subscription, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "subscription", "change_plan",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSubscriptionID, subID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}

	sub, err := s.subRepo.FindByID(ctx, tenantID, subID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, shared.ErrNotFound
	}

	newPrice, err := s.priceRepo.FindByID(ctx, planPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan price: %w", err)
	}
	plan, err := s.planRepo.FindByID(ctx, planID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if newPrice == nil || plan == nil || newPrice.PlanID != planID {
		return nil, shared.NewDomainError("INVALID_PLAN", "Unknown plan or price for plan change")
	}
	oldPrice, err := s.priceRepo.FindByID(ctx, sub.PlanPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load current price: %w", err)
	}

	fromPlan := sub.PlanID
	if err := sub.ChangePlan(planID, planPriceID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.subRepo.Save(ctx, sub); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	kind := subscription.EventKindUpgraded
	if oldPrice != nil && newPrice.Amount.LessThan(oldPrice.Amount) {
		kind = subscription.EventKindDowngraded
	}
	if err := s.recordEvent(ctx, sub, kind, &fromPlan, &planID, ""); err != nil {
		return nil, err
	}

	s.logger.Info("subscription plan changed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("subscription_id", subID.String()),
		zap.String("to_plan", planID.String()),
	)
	return sub, nil
}

// Get loads one subscription
func (s *Service) Get(ctx context.Context, tenantID, subID uuid.UUID) (*subscription.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	sub, err := s.subRepo.FindByID(ctx, tenantID, subID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, shared.ErrNotFound
	}
	return sub, nil
}

// List returns the tenant's subscriptions, most recent first
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*subscription.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	return s.subRepo.ListByTenant(ctx, tenantID)
}

// History returns the subscription's lifecycle events in occurrence order
func (s *Service) History(ctx context.Context, tenantID, subID uuid.UUID) ([]*subscription.Event, error) {
	sub, err := s.Get(ctx, tenantID, subID)
	if err != nil {
		return nil, err
	}
	return s.subRepo.EventsOf(ctx, sub.TenantID, sub.ID)
}
