package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/inquiry-router/internal/api/http"
	"github.com/spec-kit/inquiry-router/internal/api/http/handlers"
	"github.com/spec-kit/inquiry-router/internal/auth"
	"github.com/spec-kit/inquiry-router/internal/config"
	"github.com/spec-kit/inquiry-router/internal/escalation"
	"github.com/spec-kit/inquiry-router/internal/events"
	"github.com/spec-kit/inquiry-router/internal/inquiry"
	"github.com/spec-kit/inquiry-router/internal/notify"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/persistence"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/routing"
	"github.com/spec-kit/inquiry-router/internal/sentiment"
	"github.com/spec-kit/inquiry-router/internal/sla"
	"github.com/spec-kit/inquiry-router/internal/store"
	memorystore "github.com/spec-kit/inquiry-router/internal/store/memory"
	postgresstore "github.com/spec-kit/inquiry-router/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisConn := persistence.NewRedis(cfg.Redis, logger)
	defer redisConn.Close()

	var (
		cases       store.CaseStore
		handlerRepo store.HandlerStore
		escalations store.EscalationStore
		ledger      store.AuditLedger
	)
	if pg.Pool != nil {
		cases = postgresstore.NewCaseStore(pg.Pool)
		handlerRepo = postgresstore.NewHandlerStore(pg.Pool)
		escalations = postgresstore.NewEscalationStore(pg.Pool)
		ledger = postgresstore.NewAuditLedger(pg.Pool)
	} else {
		logger.Warn("running with in-memory stores; state is not durable")
		memLedger := memorystore.NewAuditLedger()
		cases = memorystore.NewCaseStore(memLedger)
		handlerRepo = memorystore.NewHandlerStore()
		escalations = memorystore.NewEscalationStore(memLedger)
		ledger = memLedger
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	reg := registry.New(handlerRepo, dispatcher, logger)

	if pg.Pool == nil {
		for _, seeded := range cfg.Seed.ParseHandlers() {
			h := seeded
			if _, err := reg.Upsert(ctx, &h); err != nil {
				logger.Warn("handler seed failed", zap.String("handler_id", h.ID), zap.Error(err))
			}
		}
	}

	calc, err := sla.NewCalculator(cfg.SLA.Windows())
	if err != nil {
		logger.Fatal("invalid sla windows", zap.Error(err))
	}

	policy := cfg.Priority.Policy()

	notifier := notify.New(cfg.Notification, logger)
	scorer := sentiment.New(cfg.Sentiment)

	manager := escalation.NewManager(escalation.Dependencies{
		Cases:       cases,
		Escalations: escalations,
		Ledger:      ledger,
		Registry:    reg,
		Notifier:    notifier,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	}, cfg.Escalation, cfg.Notification)

	engine := routing.NewEngine(routing.Dependencies{
		Cases:      cases,
		Registry:   reg,
		Ledger:     ledger,
		Calculator: calc,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	}, cfg.Routing)

	monitor := sla.NewMonitor(cases, manager, calc, cfg.SLA.SweepInterval(), logger, metrics)

	service := inquiry.NewService(inquiry.Dependencies{
		Cases:      cases,
		Ledger:     ledger,
		Registry:   reg,
		Router:     engine,
		Scorer:     scorer,
		Calculator: calc,
		Policy:     policy,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("failed to start routing engine", zap.Error(err))
	}
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("failed to start sla monitor", zap.Error(err))
	}

	bridge := events.NewRedisBridge(redisConn.Client, dispatcher, logger)
	go bridge.Run(ctx, func(runCtx context.Context, _ events.Event) {
		if err := engine.Sweep(runCtx); err != nil {
			logger.Warn("remote-triggered sweep failed", zap.Error(err))
		}
	})

	tokens := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
	authMiddleware := auth.NewMiddleware(tokens)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, time.Duration(cfg.App.RequestTimeoutSeconds)*time.Second)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisConn),
		Inquiries:      handlers.NewInquiriesHandler(service, manager),
		Escalations:    handlers.NewEscalationsHandler(manager),
		Handlers:       handlers.NewHandlersHandler(reg),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	engine.Stop(stopCtx)
	monitor.Stop(stopCtx)
	manager.DrainNotifications()
	cancel()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
