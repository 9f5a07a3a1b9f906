package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/outreach-engine/internal/app"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	once := flag.Bool("once", false, "run a single dispatch pass and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, logger.Options{
		Level:     logger.ParseLevel(cfg.Logging.Level),
		RedactPII: cfg.Logging.RedactPII,
		Component: "worker",
	})
	logger.SetDefault(log)

	if cfg.Storage.Driver == "memory" {
		log.Warn("worker started with in-memory storage; it cannot see enrollments made by the server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	d, err := a.NewDispatcher(ctx)
	if err != nil {
		log.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	if *once {
		passCtx, passCancel := context.WithTimeout(ctx, cfg.Dispatch.LockTTL())
		defer passCancel()
		st, err := d.Tick(passCtx)
		if err != nil {
			log.Error("dispatch pass failed", "error", err)
			os.Exit(1)
		}
		log.Info("dispatch pass", "enrollments", st.Enrollments, "sent", st.Sent, "refused", st.Refused,
			"deferred", st.Deferred, "locked", st.Locked, "errors", st.Errors)
		return
	}

	if err := d.Start(); err != nil {
		log.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	log.Info("worker running", "sender", cfg.Dispatch.Sender, "interval", cfg.Dispatch.Interval().String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	d.Stop()
	log.Info("worker stopped")
}
