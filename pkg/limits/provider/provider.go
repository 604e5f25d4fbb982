// Package provider chooses the limiter implementation for a process.
//
// The choice is made once, at start-up, by the composition root and then
// passed down explicitly. There is no package level state: tests that need a
// different selection simply call Select again.
package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/limits/coordinated"
	"github.com/rpzk/throttleguard/pkg/limits/ratelimit"
)

// EnvironmentProduction is the deployment mode that implies the coordinated
// limiter.
const EnvironmentProduction = "production"

// Config contains the inputs of the selection.
type Config struct {
	// ForceLocal always selects the in-process limiter.
	ForceLocal bool

	// Environment is the deployment mode ("production", "staging", ...).
	Environment string

	// StoreEnabled selects the coordinated limiter outside production.
	StoreEnabled bool

	// ProbeTimeout bounds the start-up health probe.
	// Default: 2s
	ProbeTimeout time.Duration

	// Local configures the in-process limiter.
	Local ratelimit.Config

	// Coordinated configures the Redis limiter.
	Coordinated coordinated.Config
}

// Info describes the selected limiter for operators.
type Info struct {
	Name        string `json:"name"`
	Healthy     bool   `json:"healthy"`
	Environment string `json:"environment"`
}

// Selection is the outcome of Select.
type Selection struct {
	limiter     limits.Limiter
	coordinated *coordinated.Limiter
	healthy     bool
	environment string
}

// Limiter returns the selected limiter.
func (s *Selection) Limiter() limits.Limiter {
	return s.limiter
}

// Coordinated returns the Redis limiter, or nil when the local limiter was
// selected.
func (s *Selection) Coordinated() *coordinated.Limiter {
	return s.coordinated
}

// Info reports the selected limiter's name, start-up health and environment.
func (s *Selection) Info() Info {
	return Info{
		Name:        s.limiter.Name(),
		Healthy:     s.healthy,
		Environment: s.environment,
	}
}

// Select picks the limiter. client may be nil, in which case the local
// limiter is always used.
//
// The coordinated limiter is wanted when ForceLocal is off and either the
// environment is production or StoreEnabled is set. If it is wanted but the
// store does not answer the probe, the local limiter is used instead and the
// downgrade is logged.
func Select(ctx context.Context, cfg Config, client redis.UniversalClient) *Selection {
	logger := slog.Default().With("component", "limits.provider")

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	wantCoordinated := !cfg.ForceLocal &&
		(cfg.Environment == EnvironmentProduction || cfg.StoreEnabled)

	if wantCoordinated && client != nil {
		cl, err := coordinated.NewLimiter(client, cfg.Coordinated)
		if err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
			err = client.Ping(probeCtx).Err()
			cancel()
		}
		if err == nil {
			logger.Info("using coordinated limiter",
				"environment", cfg.Environment,
				"algorithm", cfg.Coordinated.Algorithm,
			)
			return &Selection{
				limiter:     cl,
				coordinated: cl,
				healthy:     true,
				environment: cfg.Environment,
			}
		}

		logger.Warn("coordination store unhealthy, falling back to local limiter",
			"environment", cfg.Environment,
			"error", err,
		)
		return &Selection{
			limiter:     ratelimit.NewLimiter(cfg.Local),
			healthy:     false,
			environment: cfg.Environment,
		}
	}

	if wantCoordinated {
		logger.Warn("coordinated limiter wanted but no store configured, using local limiter",
			"environment", cfg.Environment,
		)
	} else {
		logger.Info("using local limiter",
			"environment", cfg.Environment,
			"force_local", cfg.ForceLocal,
		)
	}

	return &Selection{
		limiter:     ratelimit.NewLimiter(cfg.Local),
		healthy:     !wantCoordinated,
		environment: cfg.Environment,
	}
}
