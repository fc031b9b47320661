package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	adminapi "subscription-billing/internal/api/admin"
	"subscription-billing/internal/api/callbacks"
	ordersapi "subscription-billing/internal/api/orders"
	paymentsapi "subscription-billing/internal/api/payments"
	"subscription-billing/internal/api/plans"
	"subscription-billing/internal/api/users"
	"subscription-billing/internal/app/http/middleware"
)

type Handlers struct {
	Orders    *ordersapi.Handler
	Payments  *paymentsapi.Handler
	Callbacks *callbacks.Handler
	Admin     *adminapi.Handler
	Tiers     *plans.Handler
	Users     *users.Handler
}

type Options struct {
	JWTSecret  string
	Limiter    middleware.Limiter
	RateLimit  int
	RateWindow time.Duration
	Logger     *zap.Logger
}

func RegisterRoutes(r *gin.Engine, h Handlers, opts Options) {
	// Provider callbacks carry raw signed bytes and must reach the adapter
	// untouched, so they sit outside the sanitizing group.
	r.POST("/callbacks/:provider", h.Callbacks.Receive)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	public := r.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())
	public.GET("/tiers", h.Tiers.ListTiers)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(opts.JWTSecret))
	if opts.Limiter != nil {
		auth.Use(middleware.RateLimit(opts.Limiter, "api", opts.RateLimit, opts.RateWindow, opts.Logger))
	}
	auth.Use(middleware.SanitizeAndCleanInputMiddleware())

	auth.GET("/me", h.Users.GetCurrentUser)
	auth.POST("/orders", h.Orders.CreateOrder)
	auth.GET("/orders", h.Orders.ListOrders)
	auth.GET("/orders/:id", h.Orders.GetOrder)
	auth.POST("/orders/:id/cancel", h.Orders.CancelOrder)
	auth.POST("/orders/:id/payments", h.Orders.CreatePaymentIntent)

	auth.GET("/payments", h.Payments.ListPayments)
	auth.GET("/payments/:id", h.Payments.GetPayment)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(opts.JWTSecret), middleware.RequireRole("admin"), middleware.SanitizeAndCleanInputMiddleware())
	admin.GET("/payments", h.Admin.ListPayments)
	admin.POST("/payments/:id/refund", h.Admin.RefundPayment)
	admin.GET("/stats", h.Admin.GetAdminStats)
	admin.POST("/orders/expire", h.Admin.ExpireOrders)
	admin.GET("/payments/:id/webhook-events", h.Admin.ListPaymentWebhookEvents)
	admin.GET("/webhook-events", h.Admin.ListWebhookEvents)
	admin.POST("/webhook-events/:id/replay", h.Admin.ReplayWebhookEvent)
	admin.POST("/sync-tiers", h.Tiers.SyncTiersFromStripe)
	admin.PUT("/tiers/:code", h.Tiers.SaveTier)
}
