package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/shopspring/decimal"
)

// In-memory fakes shared by the service tests. They are safe for concurrent
// use, which the contention tests rely on.

type memUsageRecordRepo struct {
	mu      sync.Mutex
	records []*billing.UsageRecord
}

func (r *memUsageRecordRepo) Create(_ context.Context, record *billing.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memUsageRecordRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*billing.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.TenantID == tenantID && record.ID == id {
			return record, nil
		}
	}
	return nil, nil
}

func (r *memUsageRecordRepo) FindForPeriod(_ context.Context, tenantID, featureID uuid.UUID, start, end time.Time) ([]*billing.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*billing.UsageRecord
	for _, record := range r.records {
		if record.TenantID == tenantID && record.FeatureID == featureID && record.InPeriod(start, end) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memUsageRecordRepo) SumForPeriod(ctx context.Context, tenantID, featureID uuid.UUID, start, end time.Time) (*billing.AggregatedUsage, error) {
	records, err := r.FindForPeriod(ctx, tenantID, featureID, start, end)
	if err != nil {
		return nil, err
	}
	return billing.AggregateRecords(tenantID, featureID, start, end, records)
}

func (r *memUsageRecordRepo) CumulativeBefore(_ context.Context, tenantID, featureID uuid.UUID, cycleStart, before time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, record := range r.records {
		if record.TenantID == tenantID && record.FeatureID == featureID &&
			!record.EventTime.Before(cycleStart) && record.EventTime.Before(before) {
			total = total.Add(record.Quantity)
		}
	}
	return total, nil
}

type memAdjustmentRepo struct {
	mu          sync.Mutex
	adjustments []*billing.UsageAdjustment
}

func (r *memAdjustmentRepo) Create(_ context.Context, adjustment *billing.UsageAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adjustments = append(r.adjustments, adjustment)
	return nil
}

func (r *memAdjustmentRepo) FindPending(_ context.Context, tenantID, featureID uuid.UUID) ([]*billing.UsageAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*billing.UsageAdjustment
	for _, adj := range r.adjustments {
		if adj.TenantID == tenantID && adj.FeatureID == featureID && !adj.IsApplied() {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (r *memAdjustmentRepo) MarkApplied(_ context.Context, ids []uuid.UUID, invoiceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, adj := range r.adjustments {
		for _, id := range ids {
			if adj.ID == id {
				applied := invoiceID
				adj.AppliedInvoiceID = &applied
			}
		}
	}
	return nil
}

type memClosedPeriodRepo struct {
	mu      sync.Mutex
	periods []*billing.ClosedPeriod
}

func (r *memClosedPeriodRepo) Create(_ context.Context, period *billing.ClosedPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.periods = append(r.periods, period)
	return nil
}

func (r *memClosedPeriodRepo) FindCovering(_ context.Context, tenantID, featureID uuid.UUID, eventTime time.Time) (*billing.ClosedPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, period := range r.periods {
		if period.TenantID == tenantID && period.FeatureID == featureID && period.Covers(eventTime) {
			return period, nil
		}
	}
	return nil, nil
}

type memLedgerRepo struct {
	mu      sync.Mutex
	entries []*ledger.Entry
}

func (r *memLedgerRepo) Append(_ context.Context, entry *ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memLedgerRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.ID == id {
			return entry, nil
		}
	}
	return nil, nil
}

func (r *memLedgerRepo) Tail(_ context.Context, tenantID uuid.UUID) (*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].TenantID == tenantID {
			return r.entries[i], nil
		}
	}
	return nil, nil
}

func (r *memLedgerRepo) History(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	all, _ := r.All(context.Background(), tenantID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *memLedgerRepo) All(_ context.Context, tenantID uuid.UUID) ([]*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.Entry
	for _, entry := range r.entries {
		if entry.TenantID == tenantID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices []*invoicing.Invoice
}

func (r *memInvoiceRepo) Save(_ context.Context, invoice *invoicing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// unique (subscription_id, period_end) backstop
	for _, existing := range r.invoices {
		if existing.SubscriptionID == invoice.SubscriptionID && existing.PeriodEnd.Equal(invoice.PeriodEnd) {
			return shared.ErrDuplicatePeriod
		}
	}
	r.invoices = append(r.invoices, invoice)
	return nil
}

func (r *memInvoiceRepo) Update(_ context.Context, invoice *invoicing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.invoices {
		if existing.ID == invoice.ID {
			r.invoices[i] = invoice
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memInvoiceRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, invoice := range r.invoices {
		if invoice.TenantID == tenantID && invoice.ID == id {
			return invoice, nil
		}
	}
	return nil, nil
}

func (r *memInvoiceRepo) FindByPeriod(_ context.Context, subscriptionID uuid.UUID, periodEnd time.Time) (*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, invoice := range r.invoices {
		if invoice.SubscriptionID == subscriptionID && invoice.PeriodEnd.Equal(periodEnd) {
			return invoice, nil
		}
	}
	return nil, nil
}

func (r *memInvoiceRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*invoicing.Invoice
	for _, invoice := range r.invoices {
		if invoice.TenantID == tenantID {
			out = append(out, invoice)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memSubscriptionRepo struct {
	mu     sync.Mutex
	subs   []*subscription.Subscription
	events []*subscription.Event
}

func (r *memSubscriptionRepo) Save(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.subs {
		if existing.ID == sub.ID {
			r.subs[i] = sub
			return nil
		}
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *memSubscriptionRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TenantID == tenantID && sub.ID == id {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepo) FindCurrent(_ context.Context, tenantID uuid.UUID, at time.Time) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TenantID == tenantID && sub.IsCurrent(at) {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if sub.TenantID == tenantID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) SaveEvent(_ context.Context, event *subscription.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memSubscriptionRepo) EventsOf(_ context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Event
	for _, event := range r.events {
		if event.TenantID == tenantID && event.SubscriptionID == subscriptionID {
			out = append(out, event)
		}
	}
	return out, nil
}

type memPlanRepo struct {
	mu       sync.Mutex
	plans    []*subscription.Plan
	features []*subscription.PlanFeature
}

func (r *memPlanRepo) Save(_ context.Context, plan *subscription.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan)
	return nil
}

func (r *memPlanRepo) FindByID(_ context.Context, id uuid.UUID) (*subscription.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.plans {
		if plan.ID == id {
			return plan, nil
		}
	}
	return nil, nil
}

func (r *memPlanRepo) FindBySlug(_ context.Context, slug string) (*subscription.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.plans {
		if plan.Slug == slug {
			return plan, nil
		}
	}
	return nil, nil
}

func (r *memPlanRepo) ListActive(_ context.Context) ([]*subscription.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Plan
	for _, plan := range r.plans {
		if plan.Active {
			out = append(out, plan)
		}
	}
	return out, nil
}

func (r *memPlanRepo) SaveFeature(_ context.Context, feature *subscription.PlanFeature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = append(r.features, feature)
	return nil
}

func (r *memPlanRepo) FeaturesOf(_ context.Context, planID uuid.UUID) ([]*subscription.PlanFeature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.PlanFeature
	for _, feature := range r.features {
		if feature.PlanID == planID {
			out = append(out, feature)
		}
	}
	return out, nil
}

type memPlanPriceRepo struct {
	mu     sync.Mutex
	prices []*subscription.PlanPrice
}

func (r *memPlanPriceRepo) Save(_ context.Context, price *subscription.PlanPrice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, price)
	return nil
}

func (r *memPlanPriceRepo) FindByID(_ context.Context, id uuid.UUID) (*subscription.PlanPrice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, price := range r.prices {
		if price.ID == id {
			return price, nil
		}
	}
	return nil, nil
}

func (r *memPlanPriceRepo) PricesOf(_ context.Context, planID uuid.UUID) ([]*subscription.PlanPrice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.PlanPrice
	for _, price := range r.prices {
		if price.PlanID == planID {
			out = append(out, price)
		}
	}
	return out, nil
}

type memCouponRepo struct {
	mu        sync.Mutex
	coupons   []*subscription.Coupon
	discounts []*subscription.Discount
}

func (r *memCouponRepo) Save(_ context.Context, coupon *subscription.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.coupons {
		if existing.ID == coupon.ID {
			r.coupons[i] = coupon
			return nil
		}
	}
	r.coupons = append(r.coupons, coupon)
	return nil
}

func (r *memCouponRepo) FindByID(_ context.Context, id uuid.UUID) (*subscription.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coupon := range r.coupons {
		if coupon.ID == id {
			return coupon, nil
		}
	}
	return nil, nil
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (*subscription.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coupon := range r.coupons {
		if coupon.Code == code {
			return coupon, nil
		}
	}
	return nil, nil
}

func (r *memCouponRepo) SaveDiscount(_ context.Context, discount *subscription.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discounts = append(r.discounts, discount)
	return nil
}

func (r *memCouponRepo) DiscountsOf(_ context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Discount
	for _, discount := range r.discounts {
		if discount.TenantID == tenantID && discount.SubscriptionID == subscriptionID {
			out = append(out, discount)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (r *memAuditRepo) Create(_ context.Context, record *audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memAuditRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*audit.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.TenantID == tenantID && record.ID == id {
			return record, nil
		}
	}
	return nil, nil
}

func (r *memAuditRepo) ListByTarget(_ context.Context, tenantID uuid.UUID, kind audit.TargetKind, targetID uuid.UUID) ([]*audit.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Record
	for _, record := range r.records {
		if record.TenantID == tenantID && record.TargetKind == kind && record.TargetID == targetID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memAuditRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Record
	for _, record := range r.records {
		if record.TenantID == tenantID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// memTenantLocker serializes per tenant with a real mutex, mirroring the
// row-lock behavior: a lock taken inside a transaction is held until that
// transaction ends.
type memTenantLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMemTenantLocker() *memTenantLocker {
	return &memTenantLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *memTenantLocker) lockFor(tenantID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[tenantID] = lock
	}
	return lock
}

// lockSession tracks the locks one transaction acquired
type lockSession struct {
	locker *memTenantLocker
	mu     sync.Mutex
	held   []*sync.Mutex
}

func (s *lockSession) Acquire(_ context.Context, tenantID uuid.UUID) error {
	lock := s.locker.lockFor(tenantID)
	lock.Lock()
	s.mu.Lock()
	s.held = append(s.held, lock)
	s.mu.Unlock()
	return nil
}

func (s *lockSession) release() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, lock := range held {
		lock.Unlock()
	}
}

// lockingScope imitates a transaction scope: each Execute gets its own lock
// session, released when the function returns.
type lockingScope struct {
	repos  StaticRepositories
	locker *memTenantLocker
}

func newLockingScope(repos *StaticRepositories, locker *memTenantLocker) *lockingScope {
	return &lockingScope{repos: *repos, locker: locker}
}

func (s *lockingScope) Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error {
	session := &lockSession{locker: s.locker}
	defer session.release()
	repos := s.repos
	repos.Locker = session
	return fn(&repos)
}

type memFeatureRepo struct {
	mu       sync.Mutex
	features []*billing.Feature
}

func (r *memFeatureRepo) Save(_ context.Context, feature *billing.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = append(r.features, feature)
	return nil
}

func (r *memFeatureRepo) FindByID(_ context.Context, id uuid.UUID) (*billing.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, feature := range r.features {
		if feature.ID == id {
			return feature, nil
		}
	}
	return nil, nil
}

func (r *memFeatureRepo) FindByCodename(_ context.Context, codename string) (*billing.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, feature := range r.features {
		if feature.Codename == codename {
			return feature, nil
		}
	}
	return nil, nil
}

func (r *memFeatureRepo) ListMetered(_ context.Context) ([]*billing.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*billing.Feature
	for _, feature := range r.features {
		if feature.IsMetered() {
			out = append(out, feature)
		}
	}
	return out, nil
}

type memTierRepo struct {
	mu    sync.Mutex
	tiers []*billing.FeatureTier
}

func (r *memTierRepo) SaveAll(_ context.Context, tiers []*billing.FeatureTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tiers...)
	return nil
}

func (r *memTierRepo) ScheduleFor(_ context.Context, featureID, planPriceID uuid.UUID) (*billing.TierSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*billing.FeatureTier
	for _, tier := range r.tiers {
		if tier.FeatureID == featureID && tier.PlanPriceID == planPriceID {
			matched = append(matched, tier)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return billing.NewTierSchedule(matched)
}

type memTenantRepo struct {
	mu      sync.Mutex
	tenants []*identity.Tenant
}

func (r *memTenantRepo) Save(_ context.Context, tenant *identity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenant)
	return nil
}

func (r *memTenantRepo) Update(_ context.Context, tenant *identity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.tenants {
		if existing.ID == tenant.ID {
			r.tenants[i] = tenant
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memTenantRepo) FindByID(_ context.Context, id uuid.UUID) (*identity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tenant := range r.tenants {
		if tenant.ID == id {
			return tenant, nil
		}
	}
	return nil, nil
}

func (r *memTenantRepo) FindBySlug(_ context.Context, slug string) (*identity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tenant := range r.tenants {
		if tenant.Slug == slug {
			return tenant, nil
		}
	}
	return nil, nil
}

func (r *memTenantRepo) List(_ context.Context, status *identity.TenantStatus, page, pageSize int) ([]*identity.Tenant, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*identity.Tenant
	for _, tenant := range r.tenants {
		if status == nil || tenant.Status == *status {
			out = append(out, tenant)
		}
	}
	return out, int64(len(out)), nil
}

// fakeGateway collects or fails on demand
type fakeGateway struct {
	mu       sync.Mutex
	fail     error
	requests []ChargeRequest
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.fail != nil {
		return nil, g.fail
	}
	return &ChargeResult{
		TransactionID:    "txn_0001",
		GatewayInvoiceID: "gw_inv_0001",
		PDFURL:           "https://payments.example.com/invoices/gw_inv_0001.pdf",
	}, nil
}

type memIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{keys: make(map[string]struct{})}
}

func (s *memIdempotencyStore) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

func (s *memIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// noopSigner leaves records unsealed; signing is covered by the integrity
// package's own tests
type noopSigner struct{}

func (noopSigner) Seal(record *audit.Record) error   { record.Seal("checksum", "signature"); return nil }
func (noopSigner) Verify(record *audit.Record) error { return nil }
