package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/jfellner/zeiterfassung/internal/config"
	"github.com/jfellner/zeiterfassung/internal/database"
	"github.com/jfellner/zeiterfassung/internal/handler"
	"github.com/jfellner/zeiterfassung/internal/queue"
	"github.com/jfellner/zeiterfassung/internal/repository"
	"github.com/jfellner/zeiterfassung/internal/router"
	"github.com/jfellner/zeiterfassung/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, running without response cache and rate limiting")
	}

	entryRepo := repository.NewEntryRepo(db)
	historyRepo := repository.NewHistoryRepo(db)
	userRepo := repository.NewUserRepo(db)
	lockRepo := repository.NewLockedDayRepo(db)
	tokenRepo := repository.NewTokenRepo(db)

	svc := service.NewEntryService(entryRepo, historyRepo, userRepo, lockRepo, service.NewAMQPNotifier())

	// The change-feed consumer runs for the lifetime of the process,
	// reconnecting on broker failures, and fans invalidations out to the
	// Redis cache and the change log.
	go func() {
		if err := queue.StartEntryChangeConsumer(rdb, config.LoadCacheConfig().Prefix); err != nil {
			log.Printf("entry-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, userRepo, tokenRepo), cfg.JWTSecret)
	router.RegisterEntries(e, handler.NewEntryHandler(svc), cfg.JWTSecret, cfg, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
