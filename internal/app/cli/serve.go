package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subscription-billing/config"
	adminapi "subscription-billing/internal/api/admin"
	"subscription-billing/internal/api/callbacks"
	ordersapi "subscription-billing/internal/api/orders"
	paymentsapi "subscription-billing/internal/api/payments"
	"subscription-billing/internal/api/plans"
	"subscription-billing/internal/api/users"
	routes "subscription-billing/internal/app/http"
	"subscription-billing/internal/app/http/middleware"
	"subscription-billing/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API and provider callback endpoints.

Examples:
  billing serve
  billing serve --with-scheduler`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also enqueue the order expiry sweep on EXPIRE_SCHEDULE")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if config.APP_ENV == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newEngine(a)

	if withScheduler {
		s, err := jobs.NewScheduler(asynqRedis(), config.EXPIRE_SCHEDULE, log)
		if err != nil {
			return err
		}
		if err := s.Start(); err != nil {
			return err
		}
		defer s.Shutdown()
	}

	server := &http.Server{
		Addr:              ":" + config.PORT,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", server.Addr))
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func newEngine(a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Handlers{
		Orders:    ordersapi.NewHandler(a.ledger, a.payments),
		Payments:  paymentsapi.NewHandler(a.ledger),
		Callbacks: callbacks.NewHandler(a.gateways, a.settlement, a.audit, nil, log),
		Admin:     adminapi.NewHandler(a.ledger, a.refunds, a.audit, a.settlement, log),
		Tiers:     plans.NewHandler(a.catalog, a.priceSource(), config.Stripe.ProductID),
		Users:     users.NewHandler(a.ledger, a.catalog),
	}, routes.Options{
		JWTSecret:  config.JWT_SECRET,
		Limiter:    a.limiter,
		RateLimit:  config.RATE_LIMIT,
		RateWindow: config.RATE_WINDOW,
		Logger:     log,
	})
	return r
}
