package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/cache"
	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/database"
	"github.com/iliyamo/raffle-reservation/internal/handler"
	"github.com/iliyamo/raffle-reservation/internal/lock"
	"github.com/iliyamo/raffle-reservation/internal/middleware"
	"github.com/iliyamo/raffle-reservation/internal/queue"
	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/router"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins
	cfg := config.Load()
	log := config.NewLogger(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store     repository.Store
		raffles   repository.RaffleStore
		finalizer service.Finalizer
		orders    handler.OrderReader
		db        *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		mem := repository.NewMemoryStore()
		memOrders := repository.NewMemoryOrders()
		store, raffles, finalizer, orders = mem, mem, memOrders, memOrders
		log.Warn("using in-memory store; data is lost on restart")
	default:
		var err error
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := database.Migrate(db); err != nil {
				log.WithError(err).Fatal("database migration failed")
			}
			log.Info("database schema up to date")
		}
		orderRepo := repository.NewOrderRepo(db)
		store, raffles, finalizer, orders = repository.NewMySQLStore(db, log), repository.NewRaffleRepo(db), orderRepo, orderRepo
	}

	rdb := config.NewRedisClient(log) // nil disables every Redis feature
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()

	cartOpts := []service.CartOption{
		service.WithCutoff(cfg.CartCutoff),
		service.WithMaxAttempts(cfg.ReserveRetries),
	}
	sweepOpts := []service.SweeperOption{service.WithInterval(cfg.SweepInterval)}
	if rdb != nil {
		cartOpts = append(cartOpts, service.WithCartCache(cache.NewRedisCartCache(rdb, "cartview", cacheCfg.CartTTL)))
		sweepOpts = append(sweepOpts, service.WithLocker(lock.NewRedisLocker(rdb, "lock"), cfg.SweepLockTTL))
	}
	var dispatched chan struct{}
	if cfg.AMQPURL != "" {
		events := queue.NewDispatcher(queue.NewPublisher(cfg.AMQPURL, log), 1024, log)
		cartOpts = append(cartOpts, service.WithEvents(events))
		dispatched = make(chan struct{})
		go func() {
			events.Run(ctx)
			close(dispatched)
		}()
	}

	pool := service.NewTicketPool(store, log)
	carts := service.NewCartManager(store, pool, finalizer, log, cartOpts...)
	sweeper := service.NewSweeper(store, carts, log, sweepOpts...)

	go sweeper.Run(ctx)
	if cfg.AMQPURL != "" {
		audit, closeAudit, err := auditLogger("logs/orders.log")
		if err != nil {
			log.WithError(err).Fatal("cannot open order audit log")
		}
		defer closeAudit()
		consumer := queue.NewConsumer(cfg.AMQPURL, log, audit)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("order consumer stopped")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	health := &handler.HealthHandler{}
	if db != nil {
		health.DB = db
	}
	router.Register(e, router.Deps{
		Health:    health,
		Raffles:   handler.NewRaffleHandler(raffles, store, pool, log),
		Carts:     handler.NewCartHandler(carts, log),
		Admin:     handler.NewAdminHandler(carts, sweeper, orders, log),
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     cacheCfg,
		RateLimit: config.LoadRateLimitConfig(),
		Log:       log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.StoreDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	if dispatched != nil {
		<-dispatched
	}
}

// auditLogger writes one JSON line per completed order to path.
func auditLogger(path string) (*logrus.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l, func() { _ = f.Close() }, nil
}
