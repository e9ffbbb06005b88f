package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubscriptionRepository struct {
	mock.Mock
}

func (m *mockSubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockSubscriptionRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepository) FindCurrent(ctx context.Context, tenantID uuid.UUID, at time.Time) (*subscription.Subscription, error) {
	args := m.Called(ctx, tenantID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*subscription.Subscription, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepository) SaveEvent(ctx context.Context, event *subscription.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockSubscriptionRepository) EventsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Event, error) {
	args := m.Called(ctx, tenantID, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.Event), args.Error(1)
}

type mockPlanRepository struct {
	mock.Mock
}

func (m *mockPlanRepository) Save(ctx context.Context, plan *subscription.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *mockPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Plan), args.Error(1)
}

func (m *mockPlanRepository) FindBySlug(ctx context.Context, slug string) (*subscription.Plan, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Plan), args.Error(1)
}

func (m *mockPlanRepository) ListActive(ctx context.Context) ([]*subscription.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.Plan), args.Error(1)
}

func (m *mockPlanRepository) SaveFeature(ctx context.Context, feature *subscription.PlanFeature) error {
	args := m.Called(ctx, feature)
	return args.Error(0)
}

func (m *mockPlanRepository) FeaturesOf(ctx context.Context, planID uuid.UUID) ([]*subscription.PlanFeature, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.PlanFeature), args.Error(1)
}

type mockPlanPriceRepository struct {
	mock.Mock
}

func (m *mockPlanPriceRepository) Save(ctx context.Context, price *subscription.PlanPrice) error {
	args := m.Called(ctx, price)
	return args.Error(0)
}

func (m *mockPlanPriceRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.PlanPrice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PlanPrice), args.Error(1)
}

func (m *mockPlanPriceRepository) PricesOf(ctx context.Context, planID uuid.UUID) ([]*subscription.PlanPrice, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.PlanPrice), args.Error(1)
}

type mockCouponRepository struct {
	mock.Mock
}

func (m *mockCouponRepository) Save(ctx context.Context, coupon *subscription.Coupon) error {
	args := m.Called(ctx, coupon)
	return args.Error(0)
}

func (m *mockCouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Coupon), args.Error(1)
}

func (m *mockCouponRepository) FindByCode(ctx context.Context, code string) (*subscription.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Coupon), args.Error(1)
}

func (m *mockCouponRepository) SaveDiscount(ctx context.Context, discount *subscription.Discount) error {
	args := m.Called(ctx, discount)
	return args.Error(0)
}

func (m *mockCouponRepository) DiscountsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Discount, error) {
	args := m.Called(ctx, tenantID, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.Discount), args.Error(1)
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

type serviceMocks struct {
	subRepo    *mockSubscriptionRepository
	planRepo   *mockPlanRepository
	priceRepo  *mockPlanPriceRepository
	couponRepo *mockCouponRepository
	tenantRepo *mockTenantRepository
}

func newService(t *testing.T) (*Service, *serviceMocks) {
	t.Helper()
	m := &serviceMocks{
		subRepo:    new(mockSubscriptionRepository),
		planRepo:   new(mockPlanRepository),
		priceRepo:  new(mockPlanPriceRepository),
		couponRepo: new(mockCouponRepository),
		tenantRepo: new(mockTenantRepository),
	}
	service := NewService(m.subRepo, m.planRepo, m.priceRepo, m.couponRepo, m.tenantRepo, zap.NewNop())
	return service, m
}

func activeTenant(t *testing.T) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant("Acme", "acme", identity.BillingStrategyHybrid)
	require.NoError(t, err)
	require.NoError(t, tenant.Activate())
	return tenant
}

func monthlyPlan(t *testing.T) (*subscription.Plan, *subscription.PlanPrice) {
	t.Helper()
	plan, err := subscription.NewPlan("Growth", "growth")
	require.NoError(t, err)
	price, err := subscription.NewPlanPrice(plan.ID, subscription.BillingPeriodMonthly, decimal.RequireFromString("100.00"), "USD")
	require.NoError(t, err)
	return plan, price
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a pending subscription with a history event", func(t *testing.T) {
		service, m := newService(t)
		tenant := activeTenant(t)
		plan, price := monthlyPlan(t)

		m.tenantRepo.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		m.planRepo.On("FindByID", mock.Anything, plan.ID).Return(plan, nil)
		m.priceRepo.On("FindByID", mock.Anything, price.ID).Return(price, nil)
		m.subRepo.On("Save", mock.Anything, mock.AnythingOfType("*subscription.Subscription")).Return(nil)
		m.subRepo.On("SaveEvent", mock.Anything, mock.MatchedBy(func(event *subscription.Event) bool {
			return event.Kind == subscription.EventKindCreated
		})).Return(nil)

		sub, err := service.Create(ctx, tenant.ID, plan.ID, price.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, sub.Status)
		m.subRepo.AssertExpectations(t)
	})

	t.Run("should reject an inactive plan", func(t *testing.T) {
		service, m := newService(t)
		tenant := activeTenant(t)
		plan, price := monthlyPlan(t)
		plan.Deactivate()

		m.tenantRepo.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		m.planRepo.On("FindByID", mock.Anything, plan.ID).Return(plan, nil)

		_, err := service.Create(ctx, tenant.ID, plan.ID, price.ID)
		require.Error(t, err)
		assert.Equal(t, "INVALID_PLAN", err.(*shared.DomainError).Code)
	})

	t.Run("should reject a price from another plan", func(t *testing.T) {
		service, m := newService(t)
		tenant := activeTenant(t)
		plan, _ := monthlyPlan(t)
		otherPlan, otherPrice := monthlyPlan(t)
		_ = otherPlan

		m.tenantRepo.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		m.planRepo.On("FindByID", mock.Anything, plan.ID).Return(plan, nil)
		m.priceRepo.On("FindByID", mock.Anything, otherPrice.ID).Return(otherPrice, nil)

		_, err := service.Create(ctx, tenant.ID, plan.ID, otherPrice.ID)
		require.Error(t, err)
		assert.Equal(t, "INVALID_PLAN", err.(*shared.DomainError).Code)
	})

	t.Run("should reject an unknown tenant", func(t *testing.T) {
		service, m := newService(t)
		tenantID := uuid.New()
		m.tenantRepo.On("FindByID", mock.Anything, tenantID).Return(nil, nil)

		_, err := service.Create(ctx, tenantID, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	periodStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	pendingSub := func(t *testing.T) (*subscription.Subscription, *subscription.PlanPrice) {
		t.Helper()
		plan, price := monthlyPlan(t)
		sub, err := subscription.NewSubscription(uuid.New(), plan.ID, price.ID)
		require.NoError(t, err)
		return sub, price
	}

	t.Run("should activate with the price's billing period", func(t *testing.T) {
		service, m := newService(t)
		sub, price := pendingSub(t)

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.priceRepo.On("FindByID", mock.Anything, price.ID).Return(price, nil)
		m.subRepo.On("Save", mock.Anything, sub).Return(nil)
		m.subRepo.On("SaveEvent", mock.Anything, mock.MatchedBy(func(event *subscription.Event) bool {
			return event.Kind == subscription.EventKindActivated
		})).Return(nil)

		activated, err := service.Activate(ctx, sub.TenantID, sub.ID, periodStart)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, activated.Status)
		assert.Equal(t, periodStart, activated.CurrentPeriodStart)
		assert.Equal(t, periodStart.AddDate(0, 1, 0), activated.CurrentPeriodEnd)
	})

	t.Run("should renew into the next period", func(t *testing.T) {
		service, m := newService(t)
		sub, price := pendingSub(t)
		require.NoError(t, sub.Activate(periodStart, price.Period))

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.priceRepo.On("FindByID", mock.Anything, price.ID).Return(price, nil)
		m.subRepo.On("Save", mock.Anything, sub).Return(nil)
		m.subRepo.On("SaveEvent", mock.Anything, mock.Anything).Return(nil)

		renewed, err := service.Renew(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, periodStart.AddDate(0, 1, 0), renewed.CurrentPeriodStart)
		assert.Equal(t, periodStart.AddDate(0, 2, 0), renewed.CurrentPeriodEnd)
	})

	t.Run("should expire on renew after cancel at period end", func(t *testing.T) {
		service, m := newService(t)
		sub, price := pendingSub(t)
		require.NoError(t, sub.Activate(periodStart, price.Period))
		require.NoError(t, sub.Cancel(true))

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.priceRepo.On("FindByID", mock.Anything, price.ID).Return(price, nil)
		m.subRepo.On("Save", mock.Anything, sub).Return(nil)
		m.subRepo.On("SaveEvent", mock.Anything, mock.Anything).Return(nil)

		renewed, err := service.Renew(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, renewed.Status)
	})

	t.Run("should reject activation of a missing subscription", func(t *testing.T) {
		service, m := newService(t)
		tenantID, subID := uuid.New(), uuid.New()
		m.subRepo.On("FindByID", mock.Anything, tenantID, subID).Return(nil, nil)

		_, err := service.Activate(ctx, tenantID, subID, periodStart)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestService_RedeemCoupon(t *testing.T) {
	ctx := context.Background()

	newCoupon := func(t *testing.T) *subscription.Coupon {
		t.Helper()
		coupon, err := subscription.NewCoupon("SAVE10", subscription.DiscountTypePercentage,
			decimal.NewFromInt(10), subscription.CouponDurationForever)
		require.NoError(t, err)
		return coupon
	}

	t.Run("should persist the redemption and the discount", func(t *testing.T) {
		service, m := newService(t)
		plan, price := monthlyPlan(t)
		sub, err := subscription.NewSubscription(uuid.New(), plan.ID, price.ID)
		require.NoError(t, err)
		coupon := newCoupon(t)

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.couponRepo.On("FindByCode", mock.Anything, "SAVE10").Return(coupon, nil)
		m.couponRepo.On("Save", mock.Anything, coupon).Return(nil)
		m.couponRepo.On("SaveDiscount", mock.Anything, mock.AnythingOfType("*subscription.Discount")).Return(nil)

		discount, err := service.RedeemCoupon(ctx, sub.TenantID, sub.ID, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, coupon.ID, discount.CouponID)
		assert.Equal(t, 1, coupon.TimesRedeemed)
		assert.Nil(t, discount.EndsAt, "forever coupons never end")
		m.couponRepo.AssertExpectations(t)
	})

	t.Run("should reject an exhausted coupon", func(t *testing.T) {
		service, m := newService(t)
		plan, price := monthlyPlan(t)
		sub, err := subscription.NewSubscription(uuid.New(), plan.ID, price.ID)
		require.NoError(t, err)
		coupon := newCoupon(t)
		one := 1
		coupon.MaxRedemptions = &one
		coupon.TimesRedeemed = 1

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.couponRepo.On("FindByCode", mock.Anything, "SAVE10").Return(coupon, nil)

		_, err = service.RedeemCoupon(ctx, sub.TenantID, sub.ID, "SAVE10")
		require.Error(t, err)
		assert.Equal(t, "COUPON_EXHAUSTED", err.(*shared.DomainError).Code)
		m.couponRepo.AssertNotCalled(t, "SaveDiscount", mock.Anything, mock.Anything)
	})

	t.Run("should reject an unknown code", func(t *testing.T) {
		service, m := newService(t)
		plan, price := monthlyPlan(t)
		sub, err := subscription.NewSubscription(uuid.New(), plan.ID, price.ID)
		require.NoError(t, err)

		m.subRepo.On("FindByID", mock.Anything, sub.TenantID, sub.ID).Return(sub, nil)
		m.couponRepo.On("FindByCode", mock.Anything, "NOPE").Return(nil, nil)

		_, err = service.RedeemCoupon(ctx, sub.TenantID, sub.ID, "NOPE")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
