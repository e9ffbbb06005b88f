package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"gorm.io/gorm"
)

// SubscriptionModel is the GORM model for subscriptions
type SubscriptionModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID `gorm:"type:uuid;not null;index"`
	PlanID             uuid.UUID `gorm:"type:uuid;not null"`
	PlanPriceID        uuid.UUID `gorm:"type:uuid;not null"`
	Status             string    `gorm:"type:varchar(20);not null;index"`
	TrialEndsAt        *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool `gorm:"not null;default:false"`
	CanceledAt         *time.Time
	StartedAt          *time.Time
	CreatedBy          *uuid.UUID `gorm:"type:uuid"`
	Version            int        `gorm:"not null;default:1"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionModel) ToEntity() *subscription.Subscription {
	return &subscription.Subscription{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			TenantID:  m.TenantID,
			CreatedBy: m.CreatedBy,
		},
		PlanID:             m.PlanID,
		PlanPriceID:        m.PlanPriceID,
		Status:             subscription.Status(m.Status),
		TrialEndsAt:        m.TrialEndsAt,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CanceledAt:         m.CanceledAt,
		StartedAt:          m.StartedAt,
	}
}

// SubscriptionModelFromEntity creates a model from a domain entity
func SubscriptionModelFromEntity(e *subscription.Subscription) *SubscriptionModel {
	return &SubscriptionModel{
		ID:                 e.ID,
		TenantID:           e.TenantID,
		PlanID:             e.PlanID,
		PlanPriceID:        e.PlanPriceID,
		Status:             string(e.Status),
		TrialEndsAt:        e.TrialEndsAt,
		CurrentPeriodStart: e.CurrentPeriodStart,
		CurrentPeriodEnd:   e.CurrentPeriodEnd,
		CancelAtPeriodEnd:  e.CancelAtPeriodEnd,
		CanceledAt:         e.CanceledAt,
		StartedAt:          e.StartedAt,
		CreatedBy:          e.CreatedBy,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// SubscriptionEventModel is the GORM model for subscription history events
type SubscriptionEventModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	SubscriptionID uuid.UUID  `gorm:"type:uuid;not null;index"`
	Kind           string     `gorm:"type:varchar(30);not null"`
	FromPlanID     *uuid.UUID `gorm:"type:uuid"`
	ToPlanID       *uuid.UUID `gorm:"type:uuid"`
	Note           string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (SubscriptionEventModel) TableName() string {
	return "subscription_events"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionEventModel) ToEntity() *subscription.Event {
	return &subscription.Event{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:       m.TenantID,
		SubscriptionID: m.SubscriptionID,
		Kind:           subscription.EventKind(m.Kind),
		FromPlanID:     m.FromPlanID,
		ToPlanID:       m.ToPlanID,
		Note:           m.Note,
	}
}

// SubscriptionEventModelFromEntity creates a model from a domain entity
func SubscriptionEventModelFromEntity(e *subscription.Event) *SubscriptionEventModel {
	return &SubscriptionEventModel{
		ID:             e.ID,
		TenantID:       e.TenantID,
		SubscriptionID: e.SubscriptionID,
		Kind:           string(e.Kind),
		FromPlanID:     e.FromPlanID,
		ToPlanID:       e.ToPlanID,
		Note:           e.Note,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// SubscriptionRepository implements the subscription.SubscriptionRepository interface
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Save creates or updates a subscription
func (r *SubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	model := SubscriptionModelFromEntity(sub)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID retrieves a tenant's subscription by ID, or nil when it does not exist
func (r *SubscriptionRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*subscription.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindCurrent returns the subscription whose current period covers the given
// time, or nil when the tenant has none
func (r *SubscriptionRepository) FindCurrent(ctx context.Context, tenantID uuid.UUID, at time.Time) (*subscription.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("status IN ?", []string{string(subscription.StatusActive), string(subscription.StatusTrialing)}).
		Where("current_period_start <= ? AND current_period_end > ?", at, at).
		Order("created_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByTenant returns the tenant's subscriptions, newest first
func (r *SubscriptionRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*subscription.Subscription, error) {
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	subs := make([]*subscription.Subscription, len(models))
	for i, model := range models {
		subs[i] = model.ToEntity()
	}
	return subs, nil
}

// SaveEvent appends a subscription history event
func (r *SubscriptionRepository) SaveEvent(ctx context.Context, event *subscription.Event) error {
	model := SubscriptionEventModelFromEntity(event)
	return r.db.WithContext(ctx).Create(model).Error
}

// EventsOf returns a subscription's history in chronological order
func (r *SubscriptionRepository) EventsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Event, error) {
	var models []SubscriptionEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id = ?", tenantID, subscriptionID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]*subscription.Event, len(models))
	for i, model := range models {
		events[i] = model.ToEntity()
	}
	return events, nil
}

// Ensure SubscriptionRepository implements the interface
var _ subscription.SubscriptionRepository = (*SubscriptionRepository)(nil)
