package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/api"
	"github.com/brandon/mailwatch/internal/config"
	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/internal/mail"
	"github.com/brandon/mailwatch/internal/probe"
	"github.com/brandon/mailwatch/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailwatch version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mailwatch")

	// Initialize store
	st, err := store.NewStore(cfg.DBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer st.Close()

	// Sessions are runtime-only; nothing can be connected at startup.
	if err := st.ResetConnections(); err != nil {
		logger.WithError(err).Warn("Failed to reset connectivity flags")
	}

	// Core components
	notifier := events.NewNotifier(logger)
	prober := probe.NewProber(logger, cfg.ProbeTimeout)
	dialer := mail.NewIMAPDialer(cfg.DialTimeout)
	supervisor := mail.NewSupervisor(st, dialer, notifier, cfg.ReconnectDelay, logger)
	syncer := mail.NewSyncer(supervisor, st, prober, notifier, cfg.SyncBatchSize, logger)
	manager := mail.NewManager(st, supervisor, syncer, logger)

	// HTTP API
	server := api.NewServer(cfg, manager, st, notifier, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		logger.WithError(err).Error("Server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}

	logger.Info("Shutting down mailwatch")
}
