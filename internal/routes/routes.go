package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/walletledger/internal/auth"
	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Kafka are optional in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Kafka  *kafka.Writer
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Cfg.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Ledger
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger store")
		store = ledger.NewMemoryStore()
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Kafka != nil {
		notifiers = append(notifiers, notification.NewKafkaNotifier(d.Kafka))
	}
	engine := ledger.NewEngine(store, notifiers, d.Logger)

	walletSvc := wallet.NewService(engine, wallet.NewBalanceCache(d.Cache, d.Cfg.BalanceCacheTTL), d.Cfg.DefaultCurrency, d.Logger)
	walletHandler := wallet.NewHandler(walletSvc, d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDOf(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("",
		middleware.JWTAuth(auth.NewVerifier(d.Cfg.JWTSecret)),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		middleware.OwnerRateLimit(d.Cache, d.Cfg.RateLimitPerMin),
	)
	RegisterWalletRoutes(protected, walletHandler)

	return nil
}
