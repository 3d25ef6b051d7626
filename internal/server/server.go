package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/microbank/corebank/internal/accrual"
	"github.com/microbank/corebank/internal/config"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/routes"
)

// Server wraps the Fiber application, the accrual scheduler and shared dependencies.
type Server struct {
	app       *fiber.App
	cfg       config.Config
	scheduler *accrual.Scheduler
	logger    *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	scheduler, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, scheduler: scheduler, logger: logger}, nil
}

// Listen starts the accrual scheduler when enabled and then the HTTP server.
func (s *Server) Listen() error {
	if s.cfg.SchedulerEnabled {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then waits for running accrual
// passes until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	select {
	case <-s.scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		s.logger.Warn("accrual passes still running at shutdown deadline")
		return ctx.Err()
	}
}
