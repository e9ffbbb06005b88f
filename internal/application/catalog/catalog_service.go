package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service administers the billing catalog: features, tier schedules, plans,
// prices and coupons. All of it is platform-level data shared across tenants.
type Service struct {
	featureRepo billing.FeatureRepository
	tierRepo    billing.FeatureTierRepository
	planRepo    subscription.PlanRepository
	priceRepo   subscription.PlanPriceRepository
	couponRepo  subscription.CouponRepository
	logger      *zap.Logger
}

// NewService creates a catalog service
func NewService(
	featureRepo billing.FeatureRepository,
	tierRepo billing.FeatureTierRepository,
	planRepo subscription.PlanRepository,
	priceRepo subscription.PlanPriceRepository,
	couponRepo subscription.CouponRepository,
	logger *zap.Logger,
) *Service {
	return &Service{
		featureRepo: featureRepo,
		tierRepo:    tierRepo,
		planRepo:    planRepo,
		priceRepo:   priceRepo,
		couponRepo:  couponRepo,
		logger:      logger,
	}
}

// CreateFeatureInput describes a new feature
type CreateFeatureInput struct {
	Codename    string
	Description string
	Type        billing.FeatureType
	ValueType   billing.ValueType
}

// CreateFeature registers a feature under a unique codename
func (s *Service) CreateFeature(ctx context.Context, input CreateFeatureInput) (*billing.Feature, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "create_feature")
	defer span.End()

	feature, err := billing.NewFeature(input.Codename, input.Type, input.ValueType)
	if err != nil {
		return nil, err
	}
	feature.WithDescription(input.Description)

	if err := s.featureRepo.Save(ctx, feature); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("feature created",
		zap.String("feature_id", feature.ID.String()),
		zap.String("codename", feature.Codename),
	)
	return feature, nil
}

// GetFeature loads a feature by codename
func (s *Service) GetFeature(ctx context.Context, codename string) (*billing.Feature, error) {
	feature, err := s.featureRepo.FindByCodename(ctx, codename)
	if err != nil {
		return nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if feature == nil {
		return nil, shared.ErrNotFound
	}
	return feature, nil
}

// ListMeteredFeatures returns every metered feature
func (s *Service) ListMeteredFeatures(ctx context.Context) ([]*billing.Feature, error) {
	return s.featureRepo.ListMetered(ctx)
}

// TierInput describes one pricing tier of a schedule
type TierInput struct {
	UpTo      *decimal.Decimal
	UnitPrice decimal.Decimal
	FlatFee   decimal.Decimal
	Currency  string
}

// SetTierSchedule replaces the tier schedule for a feature under a plan
// price. The schedule is validated as a whole before anything is written.
func (s *Service) SetTierSchedule(ctx context.Context, featureCodename string, planPriceID uuid.UUID, tiers []TierInput) (*billing.TierSchedule, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "set_tier_schedule",
		telemetry.WithAttribute(telemetry.SpanAttrFeature, featureCodename),
	)
	defer span.End()

	feature, err := s.GetFeature(ctx, featureCodename)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !feature.IsMetered() {
		return nil, shared.NewDomainError("INVALID_FEATURE_TYPE", "Tier schedules apply to metered features only")
	}

	price, err := s.priceRepo.FindByID(ctx, planPriceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan price: %w", err)
	}
	if price == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Unknown plan price")
	}

	domainTiers := make([]*billing.FeatureTier, 0, len(tiers))
	for _, tier := range tiers {
		built, err := billing.NewFeatureTier(feature.ID, planPriceID, tier.UpTo, tier.UnitPrice, tier.FlatFee, tier.Currency)
		if err != nil {
			return nil, err
		}
		domainTiers = append(domainTiers, built)
	}

	if err := s.tierRepo.SaveAll(ctx, domainTiers); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("tier schedule replaced",
		zap.String("feature", feature.Codename),
		zap.String("plan_price_id", planPriceID.String()),
		zap.Int("tiers", len(domainTiers)),
	)
	return s.tierRepo.ScheduleFor(ctx, feature.ID, planPriceID)
}

// GetTierSchedule loads the tier schedule for a feature under a plan price
func (s *Service) GetTierSchedule(ctx context.Context, featureCodename string, planPriceID uuid.UUID) (*billing.TierSchedule, error) {
	feature, err := s.GetFeature(ctx, featureCodename)
	if err != nil {
		return nil, err
	}
	schedule, err := s.tierRepo.ScheduleFor(ctx, feature.ID, planPriceID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, shared.ErrNoTierDefined
	}
	return schedule, nil
}

// CreatePlanInput describes a new plan
type CreatePlanInput struct {
	Name        string
	Slug        string
	Description string
}

// CreatePlan registers a plan under a unique slug
func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput) (*subscription.Plan, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "create_plan")
	defer span.End()

	plan, err := subscription.NewPlan(input.Name, input.Slug)
	if err != nil {
		return nil, err
	}
	plan.Description = input.Description

	if err := s.planRepo.Save(ctx, plan); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("plan created", zap.String("plan_id", plan.ID.String()), zap.String("slug", plan.Slug))
	return plan, nil
}

// GetPlan loads a plan by slug, with its prices and feature bindings
func (s *Service) GetPlan(ctx context.Context, slug string) (*subscription.Plan, []*subscription.PlanPrice, []*subscription.PlanFeature, error) {
	plan, err := s.planRepo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if plan == nil {
		return nil, nil, nil, shared.ErrNotFound
	}
	prices, err := s.priceRepo.PricesOf(ctx, plan.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	features, err := s.planRepo.FeaturesOf(ctx, plan.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return plan, prices, features, nil
}

// ListActivePlans returns plans open for new subscriptions
func (s *Service) ListActivePlans(ctx context.Context) ([]*subscription.Plan, error) {
	return s.planRepo.ListActive(ctx)
}

// AttachFeature binds a feature value to a plan (e.g. max_seats = 50)
func (s *Service) AttachFeature(ctx context.Context, planID, featureID uuid.UUID, value string) (*subscription.PlanFeature, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "attach_feature")
	defer span.End()

	plan, err := s.planRepo.FindByID(ctx, planID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	feature, err := s.featureRepo.FindByID(ctx, featureID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load feature: %w", err)
	}
	if plan == nil || feature == nil {
		return nil, shared.ErrNotFound
	}

	binding, err := subscription.NewPlanFeature(planID, featureID, value)
	if err != nil {
		return nil, err
	}
	if err := s.planRepo.SaveFeature(ctx, binding); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return binding, nil
}

// CreatePriceInput describes a new plan price point
type CreatePriceInput struct {
	PlanID   uuid.UUID
	Period   subscription.BillingPeriod
	Amount   decimal.Decimal
	Currency string
}

// CreatePrice adds a purchasable price point to a plan
func (s *Service) CreatePrice(ctx context.Context, input CreatePriceInput) (*subscription.PlanPrice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "create_price")
	defer span.End()

	plan, err := s.planRepo.FindByID(ctx, input.PlanID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if plan == nil {
		return nil, shared.ErrNotFound
	}

	price, err := subscription.NewPlanPrice(input.PlanID, input.Period, input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	if err := s.priceRepo.Save(ctx, price); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("plan price created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("price_id", price.ID.String()),
		zap.String("period", string(price.Period)),
	)
	return price, nil
}

// CreateCouponInput describes a new coupon
type CreateCouponInput struct {
	Code           string
	Type           subscription.DiscountType
	Value          decimal.Decimal
	Currency       string
	Duration       subscription.CouponDuration
	DurationMonths int
	MaxRedemptions *int
	RedeemBy       *time.Time
}

// CreateCoupon registers a redeemable coupon
func (s *Service) CreateCoupon(ctx context.Context, input CreateCouponInput) (*subscription.Coupon, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "create_coupon")
	defer span.End()

	coupon, err := subscription.NewCoupon(input.Code, input.Type, input.Value, input.Duration)
	if err != nil {
		return nil, err
	}
	coupon.Currency = input.Currency
	if input.Duration == subscription.CouponDurationRepeating {
		if _, err := coupon.WithRepeatingMonths(input.DurationMonths); err != nil {
			return nil, err
		}
	}
	coupon.WithLimits(input.MaxRedemptions, input.RedeemBy)

	if err := s.couponRepo.Save(ctx, coupon); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("coupon created", zap.String("code", coupon.Code))
	return coupon, nil
}
