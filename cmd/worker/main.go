// Package main runs the portal worker daemon: it polls the bulletin board
// on a fixed interval, detects new and updated notices, ingests their
// attachments, and dispatches notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	envPath := flag.String("env", "", "Optional .env file with credentials")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			logger.New("info", "text").Error("failed to load env file", "path", *envPath, "error", err)
			os.Exit(1)
		}
	} else {
		// Best-effort default: a missing .env simply means the
		// environment is already populated.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info", "text").Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("worker starting", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := worker.New(cfg, log)

	if *once {
		if err := runner.RunCycle(ctx); err != nil {
			log.Error("cycle failed", "error", err)
			os.Exit(1)
		}

		return
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}

	log.Info("worker stopped")
}
