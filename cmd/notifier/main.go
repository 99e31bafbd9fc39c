// Package main runs the notifier service: it receives a cycle's change
// set from the worker, expands audiences to channels, and forwards error
// reports to an operator webhook.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/notify"
	"portalwatch/internal/report"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info", "text").Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Channel delivery failures are logged here; reporting them back to
	// the error sink would loop through this same service.
	reporter := report.NewReporter("", log)

	router, err := notify.NewRouter(cfg.Notify, cfg.Location(), reporter, log)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	server := notify.NewServer(router, cfg.Notifier.ErrorWebhookURL, cfg.Notifier.SourceName, log)

	httpServer := &http.Server{
		Addr:              cfg.Notifier.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("notifier listening", "addr", cfg.Notifier.ListenAddr, "channels", len(cfg.Notify.Channels))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("notifier stopped", "error", err)
		os.Exit(1)
	}

	log.Info("notifier stopped")
}
