// Command apitask is a demo monitoring host: it boots an evertask.Engine
// against Postgres, registers the bundled webhook handler, and serves a
// read-only HTTP surface over the engine's store (spec's monitoring
// boundary) plus task cancellation. It is not part of the engine itself —
// an embedding application is free to expose none of this, all of it, or
// its own shape over its own transport.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/minisource/evertask"
	"github.com/minisource/evertask/config"
	"github.com/minisource/evertask/internal/database"
	"github.com/minisource/evertask/internal/exhandlers"
	"github.com/minisource/evertask/internal/store/postgres"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgresConnection(&cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("failed to auto-migrate", zap.Error(err))
	}

	st := postgres.New(db)
	engine := evertask.New(st, logger, cfg.Engine, nil)

	if err := evertask.RegisterHandler[exhandlers.WebhookRequest](engine, "webhook", exhandlers.NewWebhookHandler(nil)); err != nil {
		logger.Fatal("failed to register webhook handler", zap.Error(err))
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	handlers := &Handlers{
		Task:   NewTaskHandler(engine),
		Health: NewHealthHandler(engine),
	}

	app := fiber.New(fiber.Config{
		AppName:      "EverTask API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	})
	SetupRouter(app, handlers)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("starting apitask server", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down apitask")

	engine.Stop(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	logger.Info("apitask stopped")
}
