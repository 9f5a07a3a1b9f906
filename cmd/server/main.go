package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/outreach-engine/internal/api"
	"github.com/ignite/outreach-engine/internal/app"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	ln.Close()
	return nil
}

func fatal(log *logger.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	flag.Parse()

	boot := logger.Default()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal(boot, "failed to load config", err)
	}

	log := logger.New(os.Stderr, logger.Options{
		Level:     logger.ParseLevel(cfg.Logging.Level),
		RedactPII: cfg.Logging.RedactPII,
		Component: "server",
	})
	logger.SetDefault(log)
	httputil.SetLogger(log)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		fatal(log, "pre-flight check failed", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fatal(log, "failed to initialize", err)
	}
	defer a.Close()

	// The dispatcher can also run here; per-enrollment locks keep it safe
	// next to standalone workers.
	var probe api.WorkerProbe
	if cfg.Dispatch.Enabled {
		d, err := a.NewDispatcher(ctx)
		if err != nil {
			fatal(log, "failed to build dispatcher", err)
		}
		if err := d.Start(); err != nil {
			fatal(log, "failed to start dispatcher", err)
		}
		defer d.Stop()
		probe = d
	} else {
		log.Info("dispatcher disabled; run cmd/worker to send")
	}

	handlers := api.NewHandlers(a.Enrollments, a.Sequences, a.Scheduler, log)
	server := api.NewServer(cfg.Server, handlers, api.RouteOptions{
		WebhookToken: cfg.Webhook.Token,
		Health:       api.NewHealthChecker(a.DB, a.RedisCmdable(), probe),
		Log:          log,
	})
	if cfg.Webhook.Token == "" {
		log.Warn("webhook token not set; POST /api/delivery/events is disabled")
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(log, "server error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
}
