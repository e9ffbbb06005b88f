package router

import (
	"github.com/gin-gonic/gin"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/interfaces/http/handler"
	"github.com/saaskit/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Handlers bundles every HTTP handler the router wires up
type Handlers struct {
	System       *handler.SystemHandler
	Auth         *handler.AuthHandler
	Tenant       *handler.TenantHandler
	Catalog      *handler.CatalogHandler
	Usage        *handler.UsageHandler
	Credit       *handler.CreditHandler
	Invoice      *handler.InvoiceHandler
	Subscription *handler.SubscriptionHandler
	Audit        *handler.AuditHandler
}

// Options tunes the middleware chain
type Options struct {
	CORS         middleware.CORSConfig
	MaxBodyBytes int64
}

// New assembles the gin engine: middleware chain, public auth routes, and
// the authenticated API grouped by capability
func New(handlers Handlers, jwtService *auth.JWTService, logger *zap.Logger, opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		middleware.CORS(opts.CORS),
	)
	if opts.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(opts.MaxBodyBytes))
	}

	engine.GET("/healthz", handlers.System.Health)
	engine.GET("/readyz", handlers.System.Ready)

	v1 := engine.Group("/api/v1")

	public := v1.Group("/auth")
	{
		public.POST("/register", handlers.Auth.Register)
		public.POST("/login", handlers.Auth.Login)
	}

	authed := v1.Group("")
	authed.Use(middleware.Authenticate(jwtService, logger))

	tenants := authed.Group("/tenants")
	{
		manage := tenants.Group("")
		manage.Use(middleware.RequireCapability(identity.CapabilityManageTenant))
		manage.POST("", handlers.Tenant.Create)
		manage.GET("", handlers.Tenant.List)
		manage.GET("/:id", handlers.Tenant.Get)
		manage.POST("/:id/activate", handlers.Tenant.Activate)
		manage.POST("/:id/trial", handlers.Tenant.StartTrial)
		manage.POST("/:id/suspend", handlers.Tenant.Suspend)
		manage.DELETE("/:id", handlers.Tenant.Delete)
		manage.POST("/:id/credit-line", handlers.Tenant.GrantCreditLine)
		manage.POST("/:id/roles", handlers.Tenant.AssignRole)
	}

	catalog := authed.Group("/catalog")
	{
		// Reads are open to any authenticated caller; writes need plan.manage
		catalog.GET("/features", handlers.Catalog.ListMeteredFeatures)
		catalog.GET("/features/:codename", handlers.Catalog.GetFeature)
		catalog.GET("/features/:codename/tiers", handlers.Catalog.GetTierSchedule)
		catalog.GET("/plans", handlers.Catalog.ListPlans)
		catalog.GET("/plans/:slug", handlers.Catalog.GetPlan)

		admin := catalog.Group("")
		admin.Use(middleware.RequireCapability(identity.CapabilityManagePlans))
		admin.POST("/features", handlers.Catalog.CreateFeature)
		admin.PUT("/features/:codename/tiers", handlers.Catalog.SetTierSchedule)
		admin.POST("/plans", handlers.Catalog.CreatePlan)
		admin.POST("/plans/:id/features", handlers.Catalog.AttachFeature)
		admin.POST("/plans/:id/prices", handlers.Catalog.CreatePrice)
		admin.POST("/coupons", handlers.Catalog.CreateCoupon)
	}

	usage := authed.Group("/usage")
	{
		usage.POST("", middleware.RequireCapability(identity.CapabilityRecordUsage), handlers.Usage.Record)
		usage.POST("/periods/close", middleware.RequireCapability(identity.CapabilityBuildInvoice), handlers.Usage.ClosePeriod)

		view := usage.Group("")
		view.Use(middleware.RequireCapability(identity.CapabilityViewUsage))
		view.GET("/aggregate", handlers.Usage.Aggregate)
		view.GET("/preview", handlers.Usage.Preview)
	}

	credits := authed.Group("/credits")
	{
		manage := credits.Group("")
		manage.Use(middleware.RequireCapability(identity.CapabilityManageCredits))
		manage.POST("", handlers.Credit.Post)
		manage.POST("/apply", handlers.Credit.Debit)
		manage.POST("/reconcile", handlers.Credit.Reconcile)

		view := credits.Group("")
		view.Use(middleware.RequireCapability(identity.CapabilityViewBalance))
		view.GET("/balance", handlers.Credit.Balance)
		view.GET("/history", handlers.Credit.History)
	}

	invoices := authed.Group("/invoices")
	{
		invoices.POST("/build", middleware.RequireCapability(identity.CapabilityBuildInvoice), handlers.Invoice.Build)

		manage := invoices.Group("")
		manage.Use(middleware.RequireCapability(identity.CapabilityManageInvoices))
		manage.GET("", handlers.Invoice.List)
		manage.GET("/:id", handlers.Invoice.Get)
		manage.POST("/:id/finalize", handlers.Invoice.Finalize)
		manage.POST("/:id/pay", handlers.Invoice.MarkPaid)
		manage.POST("/:id/void", handlers.Invoice.Void)
		manage.POST("/:id/uncollectible", handlers.Invoice.MarkUncollectible)
	}

	subscriptions := authed.Group("/subscriptions")
	subscriptions.Use(middleware.RequireCapability(identity.CapabilityManageSubscribers))
	{
		subscriptions.POST("", handlers.Subscription.Create)
		subscriptions.GET("", handlers.Subscription.List)
		subscriptions.GET("/:id", handlers.Subscription.Get)
		subscriptions.GET("/:id/events", handlers.Subscription.History)
		subscriptions.POST("/:id/activate", handlers.Subscription.Activate)
		subscriptions.POST("/:id/trial", handlers.Subscription.StartTrial)
		subscriptions.POST("/:id/cancel", handlers.Subscription.Cancel)
		subscriptions.POST("/:id/renew", handlers.Subscription.Renew)
		subscriptions.POST("/:id/change-plan", handlers.Subscription.ChangePlan)
		subscriptions.POST("/:id/coupons", handlers.Subscription.RedeemCoupon)
	}

	auditTrail := authed.Group("/audit")
	auditTrail.Use(middleware.RequireCapability(identity.CapabilityViewAuditTrail))
	{
		auditTrail.GET("", handlers.Audit.List)
		auditTrail.GET("/targets/:kind/:id", handlers.Audit.ListByTarget)
		auditTrail.POST("/verify", handlers.Audit.VerifyTrail)
		auditTrail.POST("/:id/verify", handlers.Audit.VerifyRecord)
	}

	return engine
}
