package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/p2p_market/internal/auth"
	"github.com/congo-pay/p2p_market/internal/config"
	"github.com/congo-pay/p2p_market/internal/escrow"
	"github.com/congo-pay/p2p_market/internal/funding"
	"github.com/congo-pay/p2p_market/internal/metrics"
	"github.com/congo-pay/p2p_market/internal/middleware"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/reputation"
	"github.com/congo-pay/p2p_market/internal/resolver"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development; Notifier and Registry default when nil.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Notifier notification.Notifier
	Registry *prometheus.Registry
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}
	if d.Registry == nil {
		d.Registry = metrics.NewRegistry()
	}
	m := metrics.New(d.Registry)

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Metrics(m))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(d.Registry)))

	var uow store.UnitOfWork
	if d.DB != nil {
		uow = store.NewPostgres(d.DB, d.Cfg.StoreTimeout)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory store")
		uow = store.NewMemory()
	}

	authSvc := auth.NewService(d.Cfg, uow)
	if d.Cfg.AdminUsername != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := authSvc.EnsureAdmin(ctx, d.Cfg.AdminUsername, d.Cfg.AdminPassword); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
	}
	engine := escrow.NewEngine(uow, d.Notifier, m, d.Logger)
	disputes := resolver.New(uow, engine, d.Notifier, m, d.Logger)
	ratings := reputation.NewService(uow, d.Notifier, d.Logger)
	walletSvc := wallet.NewService(uow, wallet.DefaultPrices())
	fundingSvc := funding.NewService(uow, funding.StaticGateway{}, m, d.Logger)

	authHandler := auth.NewHandler(authSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	disputeHandler := resolver.NewHandler(disputes)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	limiter := middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, d.Logger)
	RegisterAuthRoutes(api, authHandler, limiter)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterProfileRoutes(protected, authHandler)
	RegisterTradeRoutes(protected, escrow.NewHandler(engine), disputeHandler, reputation.NewHandler(ratings), limiter)
	RegisterWalletRoutes(protected, walletHandler, funding.NewHandler(fundingSvc), limiter)
	RegisterAdminRoutes(protected, middleware.AdminOnly(), disputeHandler, walletHandler.Reconcile)

	return nil
}
