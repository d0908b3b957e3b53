package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/vikthevar/Heimdall/internal/app"
	"github.com/vikthevar/Heimdall/internal/config"
	"github.com/vikthevar/Heimdall/internal/logging"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("config_file", cfg.ConfigFile),
		zap.String("storage", cfg.StorageBackend),
		zap.String("llm", cfg.LLMProvider))

	// Set Gin mode
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Deps{}, logger)
	if err != nil {
		logger.Fatal("Failed to start Heimdall", zap.Error(err))
	}
	defer a.Close()

	if err := a.Serve(ctx, ":"+cfg.Port); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
