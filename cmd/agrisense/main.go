package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/app"
	"github.com/Darknivht/agrisense-ai/internal/config"
	"github.com/Darknivht/agrisense-ai/internal/util"
)

func main() {
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

	httpServer, err := appCore.Server()
	if err != nil {
		logger.Error("failed to init server", "err", err)
		os.Exit(1)
	}

	if bot := appCore.DiscordBot(); bot != nil {
		if err := bot.Open(); err != nil {
			logger.Warn("discord gateway unavailable", "provider", "discord", "err", err)
		} else {
			defer bot.Close()
		}
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.LLMTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
		slog.Info("server stopped")
	}
}
