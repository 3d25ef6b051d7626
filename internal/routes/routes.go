package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/microbank/corebank/internal/account"
	"github.com/microbank/corebank/internal/accrual"
	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/config"
	"github.com/microbank/corebank/internal/deposit"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/store"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Setup configures middlewares and all application routes. It returns the
// accrual scheduler so the caller owns its lifecycle.
func Setup(app *fiber.App, d Deps) (*accrual.Scheduler, error) {
	// Enforce DB presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() && d.DB == nil {
		return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var st store.Store
	if d.DB != nil {
		pg := store.NewPostgresStore(d.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st = pg
	} else {
		d.Logger.Warn("no database configured, using in-memory store")
		st = store.NewMemoryStore()
	}

	var lock accrual.PassLock = accrual.NoopPassLock{}
	if d.Cache != nil {
		lock = accrual.NewRedisPassLock(d.Cache, d.Cfg.PassLockTTL, d.Logger)
	}

	ledgerSvc := ledger.NewService(st, d.Clock, d.Logger)
	accountSvc := account.NewService(st, ledgerSvc, d.Clock, d.Logger)
	depositMgr := deposit.NewManager(st, ledgerSvc, d.Clock, d.Logger)
	jobs := accrual.NewJobs(st, ledgerSvc, depositMgr, lock, d.Clock, d.Logger, accrual.Options{
		Workers:        d.Cfg.AccrualWorkers,
		MaxRetries:     d.Cfg.AccrualMaxRetries,
		RetryBaseDelay: d.Cfg.AccrualRetryBaseDelay,
	})
	scheduler := accrual.NewScheduler(jobs, d.Logger, accrual.Schedules{
		SavingsInterest: d.Cfg.SavingsInterestSchedule,
		DepositInterest: d.Cfg.DepositInterestSchedule,
		Maturity:        d.Cfg.MaturitySchedule,
		Location:        d.Cfg.SchedulerLocation,
	})

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  d.Clock.Now().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("", middleware.ActorAuth(d.Cfg.JWTSecret))
	idem := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterLedgerRoutes(protected, ledger.NewHandler(ledgerSvc), idem)
	RegisterAccountRoutes(protected, account.NewHandler(accountSvc), idem)
	RegisterDepositRoutes(protected, deposit.NewHandler(depositMgr), idem)
	RegisterAccrualRoutes(protected, accrual.NewHandler(scheduler),
		middleware.RateLimit(d.Cache, "accrual-trigger", d.Cfg.TriggerRateLimitPerMin))

	return scheduler, nil
}
