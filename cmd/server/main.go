package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appaudit "github.com/saaskit/backend/internal/application/audit"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	appcatalog "github.com/saaskit/backend/internal/application/catalog"
	appidentity "github.com/saaskit/backend/internal/application/identity"
	appsubscription "github.com/saaskit/backend/internal/application/subscription"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/infrastructure/cache"
	"github.com/saaskit/backend/internal/infrastructure/config"
	"github.com/saaskit/backend/internal/infrastructure/integrity"
	"github.com/saaskit/backend/internal/infrastructure/logger"
	"github.com/saaskit/backend/internal/infrastructure/payment"
	"github.com/saaskit/backend/internal/infrastructure/persistence"
	"github.com/saaskit/backend/internal/infrastructure/tax"
	"github.com/saaskit/backend/internal/interfaces/http/handler"
	"github.com/saaskit/backend/internal/interfaces/http/middleware"
	"github.com/saaskit/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is stamped at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.Must(cfg.Log)
	defer func() { _ = log.Sync() }()

	log.Info("starting billing engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	db, err := persistence.NewDatabaseWithZap(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", zap.Error(err))
		}
	}()
	log.Info("database connected")

	// Repositories
	tenantRepo := persistence.NewTenantRepository(db.DB)
	userRepo := persistence.NewUserRepository(db.DB)
	featureRepo := persistence.NewFeatureRepository(db.DB)
	tierRepo := persistence.NewFeatureTierRepository(db.DB)
	planRepo := persistence.NewPlanRepository(db.DB)
	priceRepo := persistence.NewPlanPriceRepository(db.DB)
	couponRepo := persistence.NewCouponRepository(db.DB)
	subscriptionRepo := persistence.NewSubscriptionRepository(db.DB)
	auditRecordRepo := persistence.NewAuditRecordRepository(db.DB)

	scope := persistence.NewGormTransactionScope(db.DB, cfg.Billing.LockTimeout)

	// Shared infrastructure
	signer, err := integrity.NewHMACSigner(cfg.Integrity.SigningKey)
	if err != nil {
		log.Fatal("failed to initialize integrity signer", zap.Error(err))
	}

	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		log.Fatal("failed to initialize idempotency store", zap.Error(err))
	}

	gateway, err := payment.NewGateway(cfg.Payment, log)
	if err != nil {
		log.Fatal("failed to initialize payment gateway", zap.Error(err))
	}

	taxPolicy, err := tax.NewPolicyFromConfig(cfg.Tax)
	if err != nil {
		log.Fatal("failed to initialize tax policy", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT)

	// Application services
	usageService := appbilling.NewUsageService(scope, featureRepo, tierRepo, idempotencyStore, signer, log)
	creditService := appbilling.NewCreditService(scope, tenantRepo, signer, log)
	invoiceService := appbilling.NewInvoiceService(scope, tenantRepo, planRepo, priceRepo, featureRepo, tierRepo, taxPolicy, gateway, signer, log)
	subscriptionService := appsubscription.NewService(subscriptionRepo, planRepo, priceRepo, couponRepo, tenantRepo, log)
	catalogService := appcatalog.NewService(featureRepo, tierRepo, planRepo, priceRepo, couponRepo, log)
	authService := appidentity.NewAuthService(userRepo, tenantRepo, jwtService, log)
	tenantService := appidentity.NewTenantService(tenantRepo, log)
	userService := appidentity.NewUserService(userRepo, log)
	trailService := appaudit.NewTrailService(auditRecordRepo, signer, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.New(router.Handlers{
		System:       handler.NewSystemHandler(db.DB, version),
		Auth:         handler.NewAuthHandler(authService),
		Tenant:       handler.NewTenantHandler(tenantService, userService),
		Catalog:      handler.NewCatalogHandler(catalogService),
		Usage:        handler.NewUsageHandler(usageService),
		Credit:       handler.NewCreditHandler(creditService),
		Invoice:      handler.NewInvoiceHandler(invoiceService),
		Subscription: handler.NewSubscriptionHandler(subscriptionService),
		Audit:        handler.NewAuditHandler(trailService),
	}, jwtService, log, router.Options{
		CORS: middleware.CORSConfig{
			AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
			AllowMethods:     cfg.HTTP.CORSAllowMethods,
			AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		},
		MaxBodyBytes: cfg.HTTP.MaxBodySize,
	})

	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("invalid trusted proxy configuration", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
