package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"call-router/internal/audit"
	"call-router/internal/availability"
	"call-router/internal/calls"
	"call-router/internal/clock"
	"call-router/internal/config"
	"call-router/internal/idempotency"
	"call-router/internal/ivr"
	"call-router/internal/queue"
	"call-router/internal/reporting"
	"call-router/internal/routing"
	"call-router/internal/rules"
	"call-router/internal/telephony"
	"call-router/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// app holds the wired services of one router process.
type app struct {
	router   *routing.Router
	roster   availability.Tracker
	rules    *rules.Service
	cache    *rules.CachedStore
	queue    *queue.Manager
	reports  *reporting.Service
	audit    *audit.Service
	recorder *calls.Recorder

	db  *pgxpool.Pool
	rdb *redis.Client

	// background runs until ctx is done; started once the server is up.
	background []func(ctx context.Context)
}

func (a *app) close() {
	a.recorder.Close()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// ready pings the shared backends.
func (a *app) ready(ctx context.Context) error {
	if a.db != nil {
		if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
			return err
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			if a.rdb != nil {
				_ = a.rdb.Close()
			}
			if a.db != nil {
				a.db.Close()
			}
		}
	}()

	var (
		ruleStore rules.Store
		directory rules.Directory
		cursor    rules.Cursor
		menuStore ivr.Store
		callRepo  calls.Repository
		auditRepo audit.Repository

		memRules *rules.MemoryStore
		memMenus *ivr.MemoryStore
	)
	switch cfg.ConfigBackend {
	case config.BackendPostgres:
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		a.db = db
		pg := rules.NewPostgresStore(db)
		ruleStore, directory, cursor = pg, pg, rules.NewPostgresCursor(db)
		menuStore = ivr.NewPostgresStore(db)
		callRepo = calls.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	default:
		memRules = rules.NewMemoryStore()
		memMenus = ivr.NewMemoryStore()
		ruleStore, directory, cursor = memRules, memRules, rules.NewMemoryCursor()
		menuStore = memMenus
		callRepo = calls.NewMemoryRepo()
		auditRepo = audit.NewMemoryRepo()
	}

	var idemStore idempotency.Store
	switch cfg.StateBackend {
	case config.BackendRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.rdb = rdb
		idemStore = idempotency.NewRedisStore(rdb, utils.DefaultKeyspace)
		a.roster = availability.NewRedisTracker(rdb, utils.DefaultKeyspace, time.Now)
	default:
		mem := idempotency.NewMemoryStore(time.Now)
		idemStore = mem
		a.background = append(a.background, func(ctx context.Context) { mem.Run(ctx, time.Minute) })
		a.roster = availability.NewMemoryTracker(time.Now)
	}

	if cfg.App.SeedFile != "" {
		if err := loadSeed(ctx, cfg.App.SeedFile, memRules, memMenus, a.roster); err != nil {
			return nil, err
		}
		log.Info("seed loaded", "file", cfg.App.SeedFile)
	}

	var control telephony.CallControl
	if cfg.Twilio.Enabled() {
		control = telephony.NewTwilioCallControl(telephony.TwilioConfig{
			AccountSID:    cfg.Twilio.AccountSID,
			AuthToken:     cfg.Twilio.AuthToken,
			PublicBaseURL: cfg.Twilio.PublicBaseURL,
			Retries:       cfg.Router.ProviderRetries,
		}, log)
	} else {
		log.Warn("twilio not configured; call control commands are only logged")
		control = telephony.NewMemoryControl(log)
	}

	a.cache = rules.NewCachedStore(ruleStore, cfg.Router.RuleCacheTTL)
	a.rules = rules.NewService(a.cache, directory, log)
	a.audit = audit.NewService(auditRepo)
	a.reports = reporting.NewService(callRepo)
	a.recorder = calls.NewRecorder(callRepo, calls.DefaultRecorderBuffer, log)
	a.queue = queue.NewManager(queue.Config{MaxWait: cfg.Router.QueueMaxWait}, time.Now, log)

	router, err := routing.New(routing.Config{
		RingTimeout:          cfg.Router.RingTimeout,
		MaxRingAttempts:      cfg.Router.MaxRingAttempts,
		IVRMaxDuration:       cfg.Router.IVRMaxDuration,
		QueueMaxWait:         cfg.Router.QueueMaxWait,
		TombstoneTTL:         cfg.Router.TombstoneTTL,
		DefaultForwardNumber: cfg.Router.DefaultForwardNumber,
		RecordCalls:          cfg.Router.RecordCalls,
	}, routing.Deps{
		Idempotency: idempotency.New(idemStore, cfg.Router.IdempotencyTTL, log),
		Rules:       a.rules,
		Cursor:      cursor,
		Agents:      a.roster,
		Queue:       a.queue,
		Menus:       ivr.NewLoader(menuStore),
		Control:     control,
		Recorder:    a.recorder,
		Audit:       routing.AuditAdapter{Audit: a.audit},
		Clock:       clock.Real{},
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	a.router = router

	a.recorder.Start(cfg.Router.RecorderWorkers)
	a.background = append(a.background, func(ctx context.Context) { a.queue.Run(ctx, cfg.Router.QueueSweepInterval) })

	ok = true
	return a, nil
}
