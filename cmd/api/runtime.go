package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/app"
	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/config"
	"github.com/ParamigosApps/appbar-sub000/internal/messaging"
	"github.com/ParamigosApps/appbar-sub000/internal/observability"
	"github.com/ParamigosApps/appbar-sub000/internal/storage/memory"
	"github.com/ParamigosApps/appbar-sub000/internal/storage/postgres"
	"github.com/ParamigosApps/appbar-sub000/internal/storage/redislock"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
	transporthttp "github.com/ParamigosApps/appbar-sub000/internal/transport/http"
	"github.com/ParamigosApps/appbar-sub000/migrations"
)

const sweepLockKey = "appbar:holds:sweep"

// repositories binds every service port to one storage backend.
type repositories struct {
	pools      app.PoolRepository
	holds      app.HoldRepository
	payments   app.PaymentRepository
	units      app.UnitRepository
	redemption app.RedemptionRepository
	admin      app.AdminRepository
}

type runtime struct {
	handler http.Handler
	expiry  *app.ExpiryManager
	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime wires storage, messaging, metrics and the services behind the
// HTTP router.
func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	var health []transporthttp.Pinger
	var repos repositories
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		store := memory.New()
		repos = repositories{pools: store, holds: store, payments: store, units: store, redemption: store, admin: store}
	case config.StoragePostgres:
		pool, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		health = append(health, pool)

		opt := postgres.WithTxMaxAttempts(cfg.Engine.TxMaxAttempts)
		units := postgres.NewUnitRepository(pool, opt)
		repos = repositories{
			pools:      postgres.NewPoolRepository(pool, opt),
			holds:      postgres.NewHoldRepository(pool, opt),
			payments:   postgres.NewPaymentRepository(pool, opt),
			units:      units,
			redemption: units,
			admin:      postgres.NewAdminRepository(pool, opt),
		}
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	var publisher app.EventPublisher = messaging.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		rt.closers = append(rt.closers, func() {
			if err := kp.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		})
		publisher = kp
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	var locker app.SweepLocker
	if cfg.RedisAddr != "" {
		client, err := redislock.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		health = append(health, redisPinger{client})

		locker, err = redislock.New(client, sweepLockKey, cfg.Engine.SweepInterval)
		if err != nil {
			return nil, err
		}
	}

	svc, err := newServices(repos, cfg.Engine, clock.NewSystem(),
		app.WithLogger(logger), app.WithMetrics(metrics), app.WithPublisher(publisher))
	if err != nil {
		return nil, err
	}
	svc.http.Health = health

	rt.expiry = app.NewExpiryManager(svc.holds, locker, cfg.Engine, app.WithLogger(logger), app.WithMetrics(metrics))
	rt.handler = transporthttp.NewRouter(svc.http, transporthttp.RouterConfig{
		Logger:      logger,
		Metrics:     metrics,
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
	})
	return rt, nil
}

type services struct {
	holds *app.HoldService
	http  transporthttp.Services
}

func newServices(repos repositories, engine config.Engine, clk clock.Clock, opts ...app.Option) (services, error) {
	signer, err := token.NewSigner(engine.TokenSecret, engine.TokenLength)
	if err != nil {
		return services{}, err
	}
	ledger := app.NewLedger(repos.pools, clk, opts...)
	holds := app.NewHoldService(repos.holds, ledger, clk, engine, opts...)
	fulfillment := app.NewFulfillmentService(repos.payments, repos.units, ledger, holds, signer, clk, engine, opts...)
	payments := app.NewPaymentService(repos.payments, holds, fulfillment, clk, engine, opts...)

	return services{
		holds: holds,
		http: transporthttp.Services{
			Holds:      holds,
			FreeHolds:  payments,
			Payments:   payments,
			Redemption: app.NewRedemptionService(repos.redemption, signer, clk, opts...),
			Pools:      ledger,
			Admin:      app.NewAdminService(repos.admin, clk, opts...),
		},
	}, nil
}

// openPostgres connects, pings and applies pending migrations.
func openPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrations.Apply(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return pool, nil
}

type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
