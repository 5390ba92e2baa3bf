package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Darknivht/agrisense-ai/internal/app"
	"github.com/Darknivht/agrisense-ai/internal/config"
	"github.com/Darknivht/agrisense-ai/internal/util"
)

func main() {
	concurrency := flag.Int("concurrency", 2, "ingestion jobs processed in parallel")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to init app", "err", err)
		os.Exit(1)
	}
	defer appCore.Close()

	slog.Info("indexer started", "queue", cfg.QueueBackend, "concurrency", *concurrency)
	if err := appCore.RunIndexer(ctx, *concurrency); err != nil {
		logger.Error("indexer stopped", "err", err)
		stop()
		appCore.Close()
		os.Exit(1)
	}
	slog.Info("indexer stopped")
}
