package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pinspire/platform/internal/auth"
	"github.com/pinspire/platform/internal/config"
	"github.com/pinspire/platform/internal/database"
	"github.com/pinspire/platform/internal/handler"
	"github.com/pinspire/platform/internal/logging"
	"github.com/pinspire/platform/internal/queue"
	"github.com/pinspire/platform/internal/repository"
	"github.com/pinspire/platform/internal/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadAuthService()

	logger, err := logging.New("authservice", cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	privPEM, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		logger.Fatal("read private key", zap.Error(err))
	}
	pubPEM, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.Fatal("read public key", zap.Error(err))
	}
	authority, err := auth.NewAuthority(privPEM, pubPEM, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		logger.Fatal("build token authority", zap.Error(err))
	}

	hasher := auth.NewHasher(auth.DefaultArgon2Params())
	users := repository.NewUserRepo(db)
	publisher := queue.NewPublisher(cfg.AMQPURL, cfg.UserQueue, logger)

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterCommon(e)
	router.RegisterAuth(e, handler.NewAuthHandler(users, authority, hasher, publisher),
		authority, config.LoadRateLimitConfig(), rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
