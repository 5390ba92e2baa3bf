// Command alerts evaluates every active weather subscription once and pushes
// triggered alerts to subscribers. Run it from cron in the morning and the
// evening; daily subscriptions are served by the morning run only.
package main

import (
	"context"
	"fmt"
	"os"
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

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	appCore, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to init app", "err", err)
		os.Exit(1)
	}
	defer appCore.Close()

	dispatcher, err := appCore.Alerts()
	if err != nil {
		logger.Error("alerts unavailable", "err", err)
		return
	}
	if _, err := dispatcher.Run(ctx); err != nil {
		logger.Error("alert scan failed", "err", err)
	}
}
