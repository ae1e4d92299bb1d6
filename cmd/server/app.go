package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/adapters/audit"
	"github.com/jjsmithok/security-platform/internal/adapters/storage/memory"
	redisstorage "github.com/jjsmithok/security-platform/internal/adapters/storage/redis"
	"github.com/jjsmithok/security-platform/internal/adapters/storage/sqlstore"
	"github.com/jjsmithok/security-platform/internal/config"
	"github.com/jjsmithok/security-platform/internal/core/catalog"
	"github.com/jjsmithok/security-platform/internal/core/ports"
	"github.com/jjsmithok/security-platform/internal/core/services"
	"github.com/jjsmithok/security-platform/internal/observability"
)

// app holds the adapters opened for one command. Each backend is opened
// lazily so "session list" never dials Redis.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	db          *sql.DB
	dialect     sqlstore.Dialect
	redis       *redisstorage.Storage
	memCounters *memory.CounterStore
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	if cfg.Session.Backend == "sql" || cfg.Risk.AuditSink == "sql" {
		dialect, err := sqlstore.ParseDialect(cfg.Session.DatabaseDriver)
		if err != nil {
			return nil, err
		}
		db, err := sqlstore.Open(ctx, dialect, cfg.Session.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		a.db, a.dialect = db, dialect
		logger.Info("database connected", zap.String("driver", string(dialect)))
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", zap.Error(err))
		}
	}
}

func (a *app) opts() []services.Option {
	return []services.Option{services.WithLogger(a.logger), services.WithMetrics(a.metrics)}
}

func (a *app) Sessions(ctx context.Context) (*services.SessionManager, error) {
	var store ports.SessionStore
	switch a.cfg.Session.Backend {
	case "sql":
		s, err := sqlstore.NewSessionStore(ctx, a.db, a.dialect)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		store = s
	default:
		a.logger.Warn("sessions are kept in memory and will not survive a restart")
		store = memory.NewSessionStore()
	}

	return services.NewSessionManager(store, services.SessionConfig{
		DefaultTTL:   a.cfg.Session.DefaultTTL,
		StoreTimeout: a.cfg.Session.StoreTimeout,
	}, a.opts()...)
}

func (a *app) Guard(ctx context.Context) (*services.Guard, error) {
	counters, err := a.counterStore()
	if err != nil {
		return nil, err
	}
	limiter, err := services.NewRateLimiterService(counters, services.Config{
		DefaultRule:   a.cfg.RateLimiter.DefaultRule,
		EndpointRules: a.cfg.RateLimiter.EndpointRules,
		KeyPrefix:     a.cfg.RateLimiter.KeyPrefix,
		StoreTimeout:  a.cfg.RateLimiter.StoreTimeout,
	}, a.opts()...)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	sink, err := a.auditSink(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := services.NewRiskEngine(cat, riskConfig(a.cfg.Risk), sink, a.opts()...)
	if err != nil {
		return nil, fmt.Errorf("risk engine: %w", err)
	}

	return services.NewGuard(limiter, engine, a.opts()...)
}

func (a *app) counterStore() (ports.CounterStore, error) {
	if a.cfg.Storage.Type == "memory" {
		a.logger.Info("using in-memory counter store")
		a.memCounters = memory.NewCounterStore()
		return a.memCounters, nil
	}

	r := a.cfg.Storage.Redis
	s, err := redisstorage.New(redisstorage.Config{Addr: r.Addr(), Password: r.Password, DB: r.DB})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = s
	a.logger.Info("connected to redis", zap.String("addr", r.Addr()))
	return s, nil
}

func (a *app) catalog() (*catalog.Catalog, error) {
	path := a.cfg.Risk.CatalogFile
	if path == "" {
		return catalog.Default(), nil
	}
	c, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("pattern catalog: %w", err)
	}
	a.logger.Info("pattern catalog loaded",
		zap.String("path", path),
		zap.Int("signatures", len(c.Signatures())),
		zap.Int("blocked_networks", len(c.BlockedNetworks())),
	)
	return c, nil
}

func (a *app) auditSink(ctx context.Context) (ports.RiskEventSink, error) {
	switch a.cfg.Risk.AuditSink {
	case "sql":
		sink, err := sqlstore.NewRiskEventSink(ctx, a.db, a.dialect)
		if err != nil {
			return nil, fmt.Errorf("risk event sink: %w", err)
		}
		return sink, nil
	case "log":
		return audit.NewLogSink(a.logger), nil
	default:
		return nil, nil
	}
}

// runCounterJanitor drops expired in-memory windows so idle identities do
// not accumulate.
func (a *app) runCounterJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memCounters.Sweep(); n > 0 {
				a.logger.Debug("expired counters swept", zap.Int("count", n))
			}
		}
	}
}

func riskConfig(c config.RiskConfig) services.RiskConfig {
	return services.RiskConfig{
		BlockThreshold: c.BlockThreshold,
		Levels: services.RiskLevels{
			Medium:   c.LevelMedium,
			High:     c.LevelHigh,
			Critical: c.LevelCritical,
		},
		PayloadLimit: c.PayloadLimit,
		Weights: services.RiskWeights{
			BlockedIP:     c.WeightBlockedIP,
			Signature:     c.WeightSignature,
			Oversize:      c.WeightOversize,
			PathTraversal: c.WeightPathTraversal,
		},
	}
}
