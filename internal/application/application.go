package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"fives-agent/internal/api"
	middlewarex "fives-agent/internal/api/middleware"
	"fives-agent/internal/config"
	domainratelimit "fives-agent/internal/domain/ratelimit"
	"fives-agent/internal/infra/backend"
	ideminfra "fives-agent/internal/infra/idempotency"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/internal/infra/ratelimit"
	redisinfra "fives-agent/internal/infra/redis"
	"fives-agent/internal/infra/redislock"
	"fives-agent/internal/infra/session"
	"fives-agent/internal/infra/store"
	"fives-agent/internal/repository"
	"fives-agent/internal/service"
	"fives-agent/pkg/nethttp/runner"
)

const mysqlPingTimeout = 5 * time.Second

type Application struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
	router  *api.Router

	redis     *redisinfra.Client
	redisOK   bool
	db        *sqlx.DB
	store     store.Store
	sessions  *session.Provider
	backend   backend.API
	lastMatch *service.LastMatchService
	matches   *service.MatchService
	apiLimit  *ratelimit.MemoryLimiter

	errChan chan error
	wg      sync.WaitGroup
	ready   bool
}

func New() *Application {
	return &Application{errChan: make(chan error)}
}

func (a *Application) Ready() bool {
	return a.ready
}

func (a *Application) Start(ctx context.Context, build string) error {
	if err := a.initCoreComponents(); err != nil {
		return fmt.Errorf("initCoreComponents(): %w", err)
	}

	if err := a.initInfra(ctx); err != nil {
		return fmt.Errorf("initInfra(): %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("initServices(): %w", err)
	}

	if err := a.initPublicRouter(ctx); err != nil {
		return fmt.Errorf("initPublicRouter(): %w", err)
	}

	a.logger.Info("application started",
		slog.String("build", build),
		slog.String("addr", a.cfg.HTTP.Addr),
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("redis", a.redisOK),
	)
	a.ready = true
	return nil
}

func (a *Application) Wait(ctx context.Context, cancel context.CancelFunc) error {
	var appErr error

	errWg := sync.WaitGroup{}
	errWg.Add(1)

	go func() {
		defer errWg.Done()
		for err := range a.errChan {
			cancel()
			if err != nil {
				a.logger.Error("error in Wait", slog.String("error", err.Error()))
				appErr = err
			}
		}
	}()

	<-ctx.Done()
	a.wg.Wait()
	close(a.errChan)
	errWg.Wait()

	a.close()
	return appErr
}

func (a *Application) close() {
	if a.matches != nil {
		a.matches.Wait()
	}
	if a.apiLimit != nil {
		a.apiLimit.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("mysql close failed", "err", err)
		}
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("redis close failed", "err", err)
	}
}

func (a *Application) initCoreComponents() error {
	if err := a.initConfig(); err != nil {
		return fmt.Errorf("initConfig(): %w", err)
	}

	a.initLogger()
	a.metrics = metricsinfra.New()
	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *Application) initLogger() {
	a.logger = NewLogger(a.cfg.Log.LevelStr)
}

func (a *Application) initInfra(ctx context.Context) error {
	a.redis = redisinfra.New(a.cfg.Redis)
	a.redisOK = a.redis.Ping(ctx, a.logger)
	if a.redis != nil && !a.redisOK {
		a.metrics.RedisDegraded.WithLabelValues("startup").Inc()
	}

	st, err := a.initStore(ctx)
	if err != nil {
		return fmt.Errorf("initStore(): %w", err)
	}
	a.store = st

	a.sessions = session.NewProvider(a.cfg.Auth.Token, a.cfg.Auth.TokenFile, a.cfg.Auth.ClockSkew)

	client, err := backend.NewClient(a.cfg.Backend, a.sessions, a.logger)
	if err != nil {
		return fmt.Errorf("backend.NewClient(): %w", err)
	}
	a.backend = backend.NewBreakerClient(client, a.cfg.CircuitBreaker, a.logger, a.metrics)
	return nil
}

func (a *Application) initStore(ctx context.Context) (store.Store, error) {
	key := a.cfg.Cache.StorageKey

	switch a.cfg.Storage.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		if !a.redisOK {
			return nil, fmt.Errorf("storage.driver=redis but redis at %s is unreachable", a.cfg.Redis.Addr)
		}
		return store.NewRedis(a.redis.Redis, a.redis.Key(key), a.logger, a.metrics), nil
	case "mysql":
		db, err := repository.NewMySQL(ctx, a.cfg.MySQL, mysqlPingTimeout)
		if err != nil {
			return nil, err
		}
		a.db = db
		return store.NewSQL(repository.NewKVRepository(db), key), nil
	default:
		fs, err := store.NewFile(a.cfg.Storage.Dir, key)
		if err != nil {
			return nil, err
		}
		a.logger.Info("last match cache file", "path", fs.Path())
		return fs, nil
	}
}

func (a *Application) initServices(ctx context.Context) error {
	budget := ratelimit.NewSliding(a.cfg.Cache.MaxFetchesPerWindow, a.cfg.Cache.FetchWindow)
	a.lastMatch = service.NewLastMatchService(ctx, a.cfg.Cache, a.store, a.backend, budget, a.logger, a.metrics)
	a.matches = service.NewMatchService(a.backend, a.lastMatch, a.cfg.Cache.DefaultSeason, a.logger)
	return nil
}

func (a *Application) initPublicRouter(ctx context.Context) error {
	a.apiLimit = ratelimit.NewMemory(a.cfg.RateLimit.PerMinute, time.Minute)
	var limiter domainratelimit.Limiter = a.apiLimit
	if a.redisOK {
		limiter = ratelimit.NewRedis(a.redis.Redis, a.cfg.Redis.KeyPrefix, a.cfg.RateLimit.PerMinute, time.Minute, a.apiLimit, a.logger, a.metrics)
	}

	var idem *middlewarex.IdempotencyMiddleware
	if a.redisOK {
		idem = middlewarex.NewIdempotencyMiddleware(
			a.cfg.Idempotency.Enabled,
			ideminfra.NewStore(a.redis.Redis, a.cfg.Redis.KeyPrefix),
			redislock.New(a.redis.Redis, a.cfg.Redis.KeyPrefix, a.logger, a.metrics),
			a.cfg.Idempotency.LockTTL,
			a.cfg.Idempotency.ResponseTTL,
			a.logger,
			a.metrics,
		)
	} else {
		idem = middlewarex.NewIdempotencyMiddleware(a.cfg.Idempotency.Enabled, nil, nil, 0, 0, a.logger, a.metrics)
	}

	a.router = api.New(a.cfg, a.logger, api.Deps{
		Cache:       a.lastMatch,
		Matches:     a.matches,
		Sessions:    a.sessions,
		Limiter:     limiter,
		Idempotency: idem,
		Metrics:     a.metrics,
	})

	addr, err := runner.RunServer(ctx, a.router.Server, a.cfg.HTTP.Addr, a.errChan, &a.wg, a.cfg.HTTP.ShutdownTimeout)
	if err != nil {
		return err
	}
	a.logger.Debug("listening", "addr", addr.String())
	return nil
}
