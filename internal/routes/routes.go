package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adfaaly/cashd/internal/account"
	"github.com/adfaaly/cashd/internal/config"
	"github.com/adfaaly/cashd/internal/engine"
	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/middleware"
	"github.com/adfaaly/cashd/internal/notification"
	"github.com/adfaaly/cashd/internal/paylink"
	"github.com/adfaaly/cashd/internal/pin"
)

// Deps aggregates shared dependencies required to wire routes. Store is
// shared with the reconciliation job; when nil one is built from DB, or in
// memory for local development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Store  ledger.Store
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. Without a database
// the ledger runs in memory, which is only useful for local development.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	store := d.Store
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB)
		} else {
			store = ledger.NewInMemory()
		}
	}

	var attempts pin.AttemptStore
	if d.Cache != nil {
		attempts = pin.NewRedisAttempts(d.Cache, d.Cfg.PINLockoutTTL)
	} else {
		attempts = pin.NewMemoryAttempts()
	}
	verifier := pin.NewVerifier(store, attempts, d.Cfg.PINMaxAttempts)

	links := paylink.NewResolver(store)
	notifier := notification.NewLoggerNotifier(d.Logger)
	eng := engine.New(store, verifier, links, notifier, d.Logger)
	accounts := account.NewService(store, verifier)

	engineHandler := engine.NewHandler(eng)
	accountHandler := account.NewHandler(accounts)
	linkHandler := paylink.NewHandler(links)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accountHandler)
	RegisterLinkRoutes(api, linkHandler)

	rateLimiter := middleware.SubmitRateLimit(d.Cache, 30)
	RegisterEntryRoutes(api, engineHandler, rateLimiter)

	return nil
}
