// Package app wires configuration, storage, services and the dispatcher
// together for the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/archive"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/delivery"
	"github.com/ignite/outreach-engine/internal/dispatch"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/httpretry"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/pkg/retry"
	"github.com/ignite/outreach-engine/internal/repository/memory"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/service/access"
	"github.com/ignite/outreach-engine/internal/service/enrollment"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
	"github.com/ignite/outreach-engine/internal/service/sequence"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	DB     *sql.DB       // nil with the memory driver
	Redis  *redis.Client // nil when redis.url is empty
	Memory *memory.Store // set with the memory driver

	Enrollments *enrollment.Service
	Sequences   *sequence.Service
	Scheduler   *scheduler.Service

	dispatchStore dispatch.Store
}

// New opens storage and builds the services. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg, Log: log}

	var (
		enrollRepo enrollment.Repository
		campaigns  enrollment.CampaignReader
		owners     access.OwnershipReader
		seqRepo    sequence.Repository
		schedRepo  interface {
			scheduler.Repository
			dispatch.Store
		}
	)

	switch cfg.Storage.Driver {
	case "postgres":
		db, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		log.Info("connected to database")

		enrollRepo = postgres.NewEnrollmentRepo(db)
		campaigns = postgres.NewCampaignRepo(db)
		owners = postgres.NewOwnershipRepo(db)
		seqRepo = postgres.NewSequenceRepo(db)
		schedRepo = postgres.NewSchedulerRepo(db)
	default:
		st := memory.New()
		a.Memory = st
		log.Warn("using in-memory storage; data is lost on restart")

		enrollRepo, campaigns, owners, seqRepo, schedRepo = st, st, st, st, st
	}

	if cfg.Redis.URL != "" {
		client, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		log.Info("connected to redis")
	}

	guard := access.NewGuard(owners)

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Enrollment.MaxAttempts

	dup, err := enrollment.ParseDuplicatePolicy(cfg.Enrollment.DuplicatePolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Enrollments = enrollment.NewService(enrollRepo, campaigns, guard, enrollment.Options{
		Timeout:         cfg.Enrollment.Timeout(),
		Retry:           policy,
		DuplicatePolicy: dup,
	}, log)

	a.Sequences = sequence.NewService(seqRepo, guard, sequence.Options{
		Strict:  cfg.Sequence.StrictTransitions,
		Timeout: cfg.Enrollment.Timeout(),
		Retry:   policy,
	}, log)

	a.Scheduler = scheduler.NewService(schedRepo, guard, log)
	a.dispatchStore = schedRepo

	if cfg.Archive.Enabled {
		arch, err := archive.New(ctx, archive.Config{
			Region:        cfg.Archive.Region,
			Bucket:        cfg.Archive.Bucket,
			Prefix:        cfg.Archive.Prefix,
			Table:         cfg.Archive.Table,
			AccessKey:     cfg.Archive.AccessKey,
			SecretKey:     cfg.Archive.SecretKey,
			RetentionDays: cfg.Archive.RetentionDays,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Enrollments.SetArchiver(arch)
		log.Info("snapshot archive enabled", "bucket", cfg.Archive.Bucket, "table", cfg.Archive.Table)
	}

	return a, nil
}

// RedisCmdable returns the Redis client as an interface, or a nil interface
// when Redis is not configured.
func (a *App) RedisCmdable() redis.Cmdable {
	if a.Redis == nil {
		return nil
	}
	return a.Redis
}

// NewDispatcher builds the send loop with the configured sender.
func (a *App) NewDispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	cfg := a.Config
	sender, err := a.newSender(ctx)
	if err != nil {
		return nil, err
	}

	var ledger dispatch.Ledger
	if a.Redis != nil {
		ledger = dispatch.NewCapacityLedger(a.Redis, cfg.Redis.KeyPrefix)
	} else {
		a.Log.Warn("redis not configured; daily limits are enforced per enrollment only")
	}

	locks := distlock.NewFactory(a.RedisCmdable(), a.DB, cfg.Dispatch.LockTTL())

	return dispatch.New(a.dispatchStore, a.Scheduler, a.Sequences, ledger, sender,
		dispatch.NewRenderer(), locks, dispatch.Config{
			Interval:  cfg.Dispatch.Interval(),
			BatchSize: cfg.Dispatch.BatchSize,
			// A pass must end before its locks can expire under it.
			PassTimeout: cfg.Dispatch.LockTTL(),
		}, a.Log), nil
}

func (a *App) newSender(ctx context.Context) (delivery.Sender, error) {
	cfg := a.Config
	switch cfg.Dispatch.Sender {
	case "http":
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.DeliveryHTTP.Timeout()}, 3, a.Log)
		return delivery.NewHTTPSender(client, cfg.DeliveryHTTP.URL, cfg.DeliveryHTTP.Token, a.Log), nil
	default:
		return delivery.NewSESSender(ctx, delivery.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		}, a.Log)
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var first error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			first = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime())
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
