package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"library-lending/internal/config"
	"library-lending/internal/database"
	"library-lending/internal/event"
	"library-lending/internal/handler"
	"library-lending/internal/lending"
	"library-lending/internal/middleware"
	"library-lending/internal/queue"
	"library-lending/internal/repository"
	"library-lending/internal/router"
	queue_publisher "library-lending/internal/service"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: rate limiting and response cache disabled")
	}

	bookRepo := repository.NewBookRepo(db)
	loanRepo := repository.NewLoanRepo(db)
	userRepo := repository.NewUserRepo(db)
	tokenRepo := repository.NewTokenRepo(db)

	broker := event.NewBroker(0)
	defer broker.Close()

	coord := lending.NewCoordinator(bookRepo, loanRepo, bookRepo, broker, cfg.LockWait)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	queue_publisher.StartEventRelay(relayCtx, broker)

	go func() {
		if err := queue.StartLendingAuditConsumer(); err != nil {
			log.Printf("lending-audit: consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	rlCfg := config.LoadRateLimitConfig()
	e.Use(middleware.NewTokenBucket(rlCfg, rdb))
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, userRepo, tokenRepo), cfg.JWTSecret)
	router.RegisterCatalog(e, handler.NewBookHandler(bookRepo, coord), cfg.JWTSecret, cache)
	router.RegisterLending(e, handler.NewLoanHandler(loanRepo, coord), cfg.JWTSecret)
	router.RegisterFeed(e, handler.NewFeedHandler(broker))

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
