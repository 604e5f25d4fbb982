package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/anomaly/snapshot"
	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/recorder"
	"github.com/rpzk/throttleguard/pkg/audit/retention"
	auditstorage "github.com/rpzk/throttleguard/pkg/audit/storage"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/guard"
	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/limits/coordinated"
	"github.com/rpzk/throttleguard/pkg/limits/provider"
	"github.com/rpzk/throttleguard/pkg/limits/ratelimit"
	"github.com/rpzk/throttleguard/pkg/security/auth"
	"github.com/rpzk/throttleguard/pkg/security/secrets"
	securitytls "github.com/rpzk/throttleguard/pkg/security/tls"
	"github.com/rpzk/throttleguard/pkg/server"
	"github.com/rpzk/throttleguard/pkg/telemetry/health"
	"github.com/rpzk/throttleguard/pkg/telemetry/metrics"
	"github.com/rpzk/throttleguard/pkg/telemetry/tracing"
)

// app owns every long-lived component of the run command. Components are
// closed in reverse construction order.
type app struct {
	cfg *config.Config

	resolver  *secrets.Resolver
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	selection *provider.Selection
	policies  *limits.PolicyTable
	detector  *anomaly.Detector
	sweeper   *anomaly.Sweeper
	snapshots snapshot.Backend
	storage   audit.Storage
	recorder  *recorder.Recorder
	scheduler *retention.Scheduler
	keys      *auth.APIKeyValidator
	pool      *guard.Pool
	guard     *guard.Guard
	reloader  *securitytls.Reloader
	server    *server.Server

	closers []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close runs the registered closers newest first and joins their errors.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newApp builds every component from cfg. On error the components built so
// far are closed and no app is returned.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"secrets", a.initSecrets},
		{"telemetry", a.initTelemetry},
		{"limiter", a.initLimiter},
		{"anomaly", a.initAnomaly},
		{"audit", a.initAudit},
		{"auth", a.initAuth},
		{"guard", a.initGuard},
		{"server", a.initServer},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = a.close(context.Background())
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return a, nil
}

func (a *app) initSecrets(ctx context.Context) error {
	sc := a.cfg.Security.Secrets

	var providers []secrets.Provider
	for _, p := range sc.Providers {
		switch p.Type {
		case "env":
			providers = append(providers, secrets.NewEnvProvider(p.Prefix))
		case "file":
			fp, err := secrets.NewFileProvider(p.Path, p.Watch)
			if err != nil {
				return err
			}
			providers = append(providers, fp)
		}
	}
	if len(providers) == 0 {
		providers = append(providers, secrets.NewEnvProvider(""))
	}

	a.resolver = secrets.NewResolver(providers, secrets.CacheConfig{
		TTL:     sc.CacheTTL,
		MaxSize: sc.CacheMaxSize,
	})
	a.onClose(func(context.Context) error { return a.resolver.Close() })

	return config.ResolveSecrets(ctx, a.cfg, a.resolver)
}

func (a *app) initTelemetry(context.Context) error {
	a.metrics = metrics.NewCollector(&a.cfg.Telemetry.Metrics, prometheus.NewRegistry())

	tracer, err := tracing.New(&a.cfg.Telemetry.Tracing, Version)
	if err != nil {
		return err
	}
	a.tracer = tracer
	a.onClose(a.tracer.Shutdown)
	return nil
}

func (a *app) initLimiter(ctx context.Context) error {
	lc := a.cfg.Limits

	table, err := lc.PolicyTable()
	if err != nil {
		return err
	}
	if a.policies, err = limits.NewPolicyTable(table); err != nil {
		return err
	}

	algorithm, err := coordinated.ParseAlgorithm(lc.Algorithm)
	if err != nil {
		return err
	}

	var client redis.UniversalClient
	if !lc.ForceLocal && (lc.Redis.Enabled || lc.Environment == provider.EnvironmentProduction) {
		client = redis.NewClient(&redis.Options{
			Addr:         lc.Redis.Address,
			Username:     lc.Redis.Username,
			Password:     lc.Redis.Password,
			DB:           lc.Redis.DB,
			PoolSize:     lc.Redis.PoolSize,
			DialTimeout:  lc.Redis.DialTimeout,
			ReadTimeout:  lc.Redis.OpTimeout,
			WriteTimeout: lc.Redis.OpTimeout,
			// Retries are owned by the coordinated limiter.
			MaxRetries: -1,
		})
	}

	a.selection = provider.Select(ctx, provider.Config{
		ForceLocal:   lc.ForceLocal,
		Environment:  lc.Environment,
		StoreEnabled: lc.Redis.Enabled,
		ProbeTimeout: lc.ProbeTimeout,
		Local: ratelimit.Config{
			CleanupInterval: lc.CleanupInterval,
			Recorder:        a.metrics,
		},
		Coordinated: coordinated.Config{
			Namespace:    lc.Redis.Namespace,
			Algorithm:    algorithm,
			OpTimeout:    lc.Redis.OpTimeout,
			MaxRetries:   lc.Redis.MaxRetries,
			RetryBackoff: lc.Redis.RetryBackoff,
			Recorder:     a.metrics,
		},
	}, client)

	limiter := a.selection.Limiter()
	a.onClose(func(context.Context) error {
		err := limiter.Close()
		if client != nil {
			err = errors.Join(err, client.Close())
		}
		return err
	})
	return nil
}

func (a *app) initAnomaly(ctx context.Context) error {
	ac := a.cfg.Anomaly

	loc, err := ac.Location()
	if err != nil {
		return err
	}
	a.detector = anomaly.NewDetector(anomaly.Config{
		HistoryCapacity:     ac.HistoryCapacity,
		HistoryRetention:    ac.HistoryRetention,
		SuspiciousSourceTTL: ac.SuspiciousSourceTTL,
		SensitivePrefixes:   ac.SensitivePrefixes,
		Location:            loc,
		Recorder:            a.metrics,
	})

	if ac.Snapshot.Enabled {
		backend, err := snapshot.NewSQLiteBackend(snapshot.SQLiteConfig{Path: ac.Snapshot.Path})
		if err != nil {
			return err
		}
		a.snapshots = backend
		if err := a.detector.Restore(ctx, backend); err != nil {
			slog.Warn("anomaly state not restored", "error", err)
		}
		a.onClose(func(ctx context.Context) error {
			err := a.detector.Snapshot(ctx, backend)
			return errors.Join(err, backend.Close())
		})
	}

	a.sweeper = anomaly.NewSweeper(a.detector, ac.SweepSchedule)
	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	a.onClose(func(context.Context) error {
		a.sweeper.Stop()
		return nil
	})
	return nil
}

func (a *app) initAudit(ctx context.Context) error {
	ac := a.cfg.Audit

	store, err := openAuditStorage(&ac)
	if err != nil {
		return err
	}
	a.storage = store
	a.onClose(func(context.Context) error { return store.Close() })

	a.recorder = recorder.New(store, recorder.Config{
		AsyncBuffer:    ac.Recorder.AsyncBuffer,
		EnqueueTimeout: ac.Recorder.EnqueueTimeout,
		WriteTimeout:   ac.Recorder.WriteTimeout,
		FallbackSize:   ac.Recorder.FallbackSize,
		Breaker: recorder.BreakerConfig{
			FailureThreshold: ac.Recorder.BreakerThreshold,
			CoolDown:         ac.Recorder.BreakerCoolDown,
		},
		Metrics: a.metrics,
	})
	a.onClose(func(context.Context) error { return a.recorder.Close() })

	if ac.Retention.Enabled && ac.Retention.Days > 0 {
		pruner := retention.NewPruner(store, &retention.Config{
			RetentionDays:       ac.Retention.Days,
			PruneSchedule:       ac.Retention.Schedule,
			ArchiveBeforeDelete: ac.Retention.ArchiveBeforeDelete,
			ArchivePath:         ac.Retention.ArchivePath,
		})
		a.scheduler = retention.NewScheduler(pruner)
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		a.onClose(func(context.Context) error {
			a.scheduler.Stop()
			return nil
		})
	}
	return nil
}

// openAuditStorage opens the configured audit backend.
func openAuditStorage(ac *config.AuditConfig) (audit.Storage, error) {
	switch ac.Backend {
	case "memory":
		return auditstorage.NewMemoryStorage(), nil
	case "sqlite":
		return auditstorage.NewSQLiteStorage(&auditstorage.SQLiteConfig{
			Path:         ac.SQLite.Path,
			MaxOpenConns: ac.SQLite.MaxOpenConns,
			MaxIdleConns: ac.SQLite.MaxIdleConns,
			WALMode:      ac.SQLite.WALMode,
			BusyTimeout:  ac.SQLite.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported audit backend %q", ac.Backend)
	}
}

func (a *app) initAuth(ctx context.Context) error {
	if !a.cfg.Security.Auth.Enabled {
		return nil
	}
	keys, err := a.cfg.Security.Auth.APIKeys(ctx, a.resolver)
	if err != nil {
		return err
	}
	a.keys = auth.NewAPIKeyValidator(keys)
	return nil
}

func (a *app) initGuard(context.Context) error {
	gc := a.cfg.Guard

	a.pool = guard.NewPool(guard.PoolConfig{
		Workers:     gc.Workers,
		QueueSize:   gc.QueueSize,
		TaskTimeout: gc.TaskTimeout,
		Metrics:     a.metrics,
	})
	a.onClose(func(context.Context) error {
		a.pool.Close()
		return nil
	})

	var authn auth.Authenticator
	if a.keys != nil {
		ac := a.cfg.Security.Auth
		authn = auth.NewAPIKeyAuthenticator(a.keys, ac.Sources, ac.AllowAnonymous)
	}

	g, err := guard.New(guard.Config{
		Policies:          a.policies,
		Limiter:           a.selection.Limiter(),
		Detector:          a.detector,
		Audit:             a.recorder,
		Authenticator:     authn,
		Pool:              a.pool,
		Tracer:            a.tracer,
		TrustProxyHeaders: a.cfg.Server.TrustProxyHeaders,
		AdminRole:         a.cfg.Server.AdminRole,
	})
	if err != nil {
		return err
	}
	a.guard = g
	a.onClose(func(context.Context) error { return g.Close() })
	return nil
}

func (a *app) initServer(context.Context) error {
	checker := health.New(a.cfg.Telemetry.Health.CheckTimeout)
	if cl := a.selection.Coordinated(); cl != nil {
		checker.RegisterCheck("coordination_store", health.PingCheck(cl))
	}
	checker.RegisterCheck("audit_storage", health.AuditStorageCheck(a.storage))
	checker.RegisterCheck("audit_breaker", health.AuditBreakerCheck(a.recorder.BreakerState))

	deps := server.Deps{
		Guard:           a.guard,
		Health:          checker,
		MetricsPath:     a.cfg.Telemetry.Metrics.Path,
		HealthRateLimit: int(a.cfg.Telemetry.Health.RateLimit),
		Version:         Version,
		Commit:          GitCommit,
		BuildTime:       BuildDate,
	}
	if a.cfg.Telemetry.Metrics.Enabled {
		deps.Metrics = a.metrics
	}

	if tc := a.cfg.Security.TLS; tc.Enabled {
		tlsConfig, reloader, err := securitytls.ServerConfig(securitytls.Config{
			CertFile:       tc.CertFile,
			KeyFile:        tc.KeyFile,
			MinVersion:     tc.MinVersion,
			CipherSuites:   tc.CipherSuites,
			ReloadInterval: tc.ReloadInterval,
		})
		if err != nil {
			return err
		}
		deps.TLS = tlsConfig
		a.reloader = reloader
	}

	srv, err := server.New(&a.cfg.Server, deps)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// applyReload swaps in the parts of a reloaded configuration that can change
// without a restart: the policy table, the API keys and the log level.
// Everything else requires a restart and is ignored.
func (a *app) applyReload(ctx context.Context, next *config.Config, setLevel func(string) error) {
	table, err := next.Limits.PolicyTable()
	if err == nil {
		err = a.policies.Replace(table)
	}
	if err != nil {
		slog.Error("policy reload rejected", "error", err)
	} else {
		slog.Info("rate limit policies reloaded")
	}

	if a.keys != nil && next.Security.Auth.Enabled {
		a.resolver.Invalidate()
		if err := config.ResolveSecrets(ctx, next, a.resolver); err != nil {
			slog.Error("API key reload rejected", "error", err)
		} else if keys, err := next.Security.Auth.APIKeys(ctx, a.resolver); err != nil {
			slog.Error("API key reload rejected", "error", err)
		} else {
			a.keys.Replace(keys)
			slog.Info("API keys reloaded", "count", len(keys))
		}
	}

	if setLevel != nil {
		if err := setLevel(next.Telemetry.Logging.Level); err != nil {
			slog.Error("log level reload rejected", "error", err)
		}
	}
}
