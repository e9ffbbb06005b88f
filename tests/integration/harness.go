// Package integration exercises the HTTP API against a real database,
// covering the full stack from router middleware down to GORM.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	appaudit "github.com/saaskit/backend/internal/application/audit"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	appcatalog "github.com/saaskit/backend/internal/application/catalog"
	appidentity "github.com/saaskit/backend/internal/application/identity"
	appsubscription "github.com/saaskit/backend/internal/application/subscription"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/infrastructure/cache"
	"github.com/saaskit/backend/internal/infrastructure/config"
	"github.com/saaskit/backend/internal/infrastructure/integrity"
	"github.com/saaskit/backend/internal/infrastructure/payment"
	"github.com/saaskit/backend/internal/infrastructure/persistence"
	"github.com/saaskit/backend/internal/infrastructure/tax"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
	"github.com/saaskit/backend/internal/interfaces/http/handler"
	"github.com/saaskit/backend/internal/interfaces/http/middleware"
	"github.com/saaskit/backend/internal/interfaces/http/router"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestServer wires the complete application stack onto an in-memory
// database. The tenant lock degrades to sqlite's single-writer semantics
// here; lock_timeout behavior itself is covered by the scope's own tests.
type TestServer struct {
	Engine *gin.Engine
	DB     *gorm.DB

	TenantService *appidentity.TenantService
	UserService   *appidentity.UserService

	t *testing.T
}

// NewTestServer assembles the API server for tests
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&persistence.TenantModel{},
		&persistence.UserModel{},
		&persistence.TenantRoleModel{},
		&persistence.FeatureModel{},
		&persistence.FeatureTierModel{},
		&persistence.PlanModel{},
		&persistence.PlanFeatureModel{},
		&persistence.PlanPriceModel{},
		&persistence.CouponModel{},
		&persistence.DiscountModel{},
		&persistence.SubscriptionModel{},
		&persistence.SubscriptionEventModel{},
		&persistence.UsageRecordModel{},
		&persistence.UsageAdjustmentModel{},
		&persistence.ClosedPeriodModel{},
		&persistence.LedgerEntryModel{},
		&persistence.InvoiceModel{},
		&persistence.InvoiceLineItemModel{},
		&persistence.AuditRecordModel{},
		&persistence.TenantLockModel{},
	))

	log := zap.NewNop()

	tenantRepo := persistence.NewTenantRepository(db)
	userRepo := persistence.NewUserRepository(db)
	featureRepo := persistence.NewFeatureRepository(db)
	tierRepo := persistence.NewFeatureTierRepository(db)
	planRepo := persistence.NewPlanRepository(db)
	priceRepo := persistence.NewPlanPriceRepository(db)
	couponRepo := persistence.NewCouponRepository(db)
	subscriptionRepo := persistence.NewSubscriptionRepository(db)
	auditRecordRepo := persistence.NewAuditRecordRepository(db)

	scope := persistence.NewGormTransactionScope(db, time.Second)

	signer, err := integrity.NewHMACSigner("integration-test-signing-key-0123456789")
	require.NoError(t, err)

	gateway, err := payment.NewGateway(config.PaymentConfig{Gateway: "stub"}, log)
	require.NoError(t, err)

	taxPolicy, err := tax.NewPolicyFromConfig(config.TaxConfig{Rate: "0.1", Description: "VAT"})
	require.NoError(t, err)

	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                "integration-test-jwt-secret-0123456789",
		AccessTokenExpiration: time.Hour,
		Issuer:                "integration",
	})

	usageService := appbilling.NewUsageService(scope, featureRepo, tierRepo, cache.NewInMemoryIdempotencyStore(), signer, log)
	creditService := appbilling.NewCreditService(scope, tenantRepo, signer, log)
	invoiceService := appbilling.NewInvoiceService(scope, tenantRepo, planRepo, priceRepo, featureRepo, tierRepo, taxPolicy, gateway, signer, log)
	subscriptionService := appsubscription.NewService(subscriptionRepo, planRepo, priceRepo, couponRepo, tenantRepo, log)
	catalogService := appcatalog.NewService(featureRepo, tierRepo, planRepo, priceRepo, couponRepo, log)
	authService := appidentity.NewAuthService(userRepo, tenantRepo, jwtService, log)
	tenantService := appidentity.NewTenantService(tenantRepo, log)
	userService := appidentity.NewUserService(userRepo, log)
	trailService := appaudit.NewTrailService(auditRecordRepo, signer, log)

	engine := router.New(router.Handlers{
		System:       handler.NewSystemHandler(db, "integration"),
		Auth:         handler.NewAuthHandler(authService),
		Tenant:       handler.NewTenantHandler(tenantService, userService),
		Catalog:      handler.NewCatalogHandler(catalogService),
		Usage:        handler.NewUsageHandler(usageService),
		Credit:       handler.NewCreditHandler(creditService),
		Invoice:      handler.NewInvoiceHandler(invoiceService),
		Subscription: handler.NewSubscriptionHandler(subscriptionService),
		Audit:        handler.NewAuditHandler(trailService),
	}, jwtService, log, router.Options{
		CORS:         middleware.DefaultCORSConfig(),
		MaxBodyBytes: 1 << 20,
	})

	return &TestServer{
		Engine:        engine,
		DB:            db,
		TenantService: tenantService,
		UserService:   userService,
		t:             t,
	}
}

// Do issues a request against the in-process server. A non-empty token is
// sent as a bearer credential.
func (s *TestServer) Do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Engine.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a response envelope and returns it; data lands in out
// when out is non-nil.
func (s *TestServer) Decode(w *httptest.ResponseRecorder, out interface{}) dto.Response {
	s.t.Helper()

	var envelope dto.Response
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &envelope))

	if out != nil && envelope.Data != nil {
		raw, err := json.Marshal(envelope.Data)
		require.NoError(s.t, err)
		require.NoError(s.t, json.Unmarshal(raw, out))
	}
	return envelope
}

// Account is a provisioned login bound to one tenant
type Account struct {
	TenantID string
	UserID   string
	Email    string
	Token    string
}

// Bootstrap provisions an active tenant plus a user holding role, registers
// the user through the public API and returns a logged-in account. Role
// assignment happens below the API because granting roles itself requires a
// privileged caller.
func (s *TestServer) Bootstrap(slug string, role identity.Role) Account {
	s.t.Helper()
	ctx := context.Background()

	tenant, err := identity.NewTenant("Tenant "+slug, slug, identity.BillingStrategyHybrid)
	require.NoError(s.t, err)
	require.NoError(s.t, tenant.Activate())
	require.NoError(s.t, persistence.NewTenantRepository(s.DB).Save(ctx, tenant))

	email := slug + "-" + string(role) + "@example.com"
	password := "correct horse battery staple"

	w := s.Do("POST", "/api/v1/auth/register", "", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": "Integration " + string(role),
	})
	require.Equal(s.t, 201, w.Code, w.Body.String())

	var user handler.UserResponse
	s.Decode(w, &user)

	assignment, err := identity.NewTenantRole(user.ID, tenant.ID, role)
	require.NoError(s.t, err)
	require.NoError(s.t, persistence.NewUserRepository(s.DB).AssignRole(ctx, assignment))

	w = s.Do("POST", "/api/v1/auth/login", "", map[string]string{
		"email":       email,
		"password":    password,
		"tenant_slug": slug,
	})
	require.Equal(s.t, 200, w.Code, w.Body.String())

	var login handler.LoginResponse
	s.Decode(w, &login)

	return Account{
		TenantID: tenant.ID.String(),
		UserID:   user.ID.String(),
		Email:    email,
		Token:    login.AccessToken,
	}
}
