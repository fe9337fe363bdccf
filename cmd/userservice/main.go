package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

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
	cfg := config.LoadUserService()

	logger, err := logging.New("userservice", cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	directory := repository.NewDirectoryRepo(db)

	e := echo.New()
	e.HideBanner = true
	router.RegisterCommon(e)
	router.RegisterDirectory(e, handler.NewProfileHandler(directory))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The consumer owns its broker connection for the life of the process;
	// cancelling ctx closes it and returns any unacked delivery to the queue.
	consumer := queue.NewConsumer(cfg.AMQPURL, cfg.UserQueue, directory, logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

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
	<-consumerDone
}
