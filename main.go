package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	clts "flowsentry/clients"
	"flowsentry/config"
	"flowsentry/internal/app"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	cfg := config.Load()
	if result := cfg.Validate(); !result.Valid {
		for _, verr := range result.Errors {
			logger.Error("invalid config value",
				zap.String("field", verr.Field),
				zap.String("message", verr.Message))
		}
		logger.Fatal("config validation failed", zap.Int("errors", len(result.Errors)))
	}
	logger.Info("starting flowsentry",
		zap.Bool("isProd", cfg.IsProd),
		zap.Strings("symbols", cfg.Symbols))

	logger.Info("instantiating clients")
	clients, err := clts.NewClients(logger, cfg)
	if err != nil {
		logger.Fatal("client setup failed", zap.Error(err))
	}
	defer func() {
		if err := clients.Close(); err != nil {
			logger.Warn("client shutdown errors", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(logger, cfg, clients)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
