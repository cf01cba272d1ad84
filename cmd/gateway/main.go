package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/internal/auth/store/revocation"
	"parley/internal/gateway/forwarder"
	"parley/internal/gateway/handler"
	"parley/internal/gateway/routes"
	jwttoken "parley/internal/jwt_token"
	"parley/internal/platform/config"
	"parley/internal/platform/httpserver"
	"parley/internal/platform/logger"
	"parley/internal/platform/metrics"
	"parley/internal/platform/postgres"
	platformredis "parley/internal/platform/redis"
	ratelimit "parley/internal/ratelimit/middleware"
	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/store/bucket"
	"parley/pkg/platform/middleware/auth"
	"parley/pkg/platform/middleware/metadata"
)

// main wires the gateway. Routing lives in internal/gateway/routes.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.GatewayFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Gateway, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	table := routes.Default()
	if err := table.Validate(cfg.Backends); err != nil {
		return fmt.Errorf("route table: %w", err)
	}

	fwd, err := forwarder.New(cfg.Backends,
		forwarder.WithTimeout(cfg.UpstreamTimeout),
		forwarder.WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		forwarder.WithLogger(log),
		forwarder.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	var redisClient *platformredis.Client
	if cfg.RevocationBackend == config.RevocationRedis || (cfg.RateLimit.Enabled && cfg.RateLimit.Backend == config.RateLimitRedis) {
		redisClient, err = platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// The gateway only reads the revocation list; the identity service
	// writes and purges it.
	var guardOpts []auth.GuardOption
	switch cfg.RevocationBackend {
	case config.RevocationRedis:
		guardOpts = append(guardOpts, auth.WithRevocationChecker(
			revocation.NewRedisTRL(redisClient.Client, revocation.WithRedisMetrics(m)),
		))
	case config.RevocationPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		guardOpts = append(guardOpts, auth.WithRevocationChecker(
			revocation.NewPostgresTRL(db, revocation.WithPostgresMetrics(m)),
		))
	}

	var store ratelimit.BucketStore = bucket.New()
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == config.RateLimitRedis {
		store = bucket.NewRedis(redisClient.Client)
	}
	limiter := ratelimit.New(store, log,
		ratelimit.WithDisabled(!cfg.RateLimit.Enabled),
		ratelimit.WithMetrics(m),
		ratelimit.WithLimit(models.ClassAuth, models.Limit{Requests: cfg.RateLimit.Auth, Window: cfg.RateLimit.Window}),
		ratelimit.WithLimit(models.ClassRead, models.Limit{Requests: cfg.RateLimit.Read, Window: cfg.RateLimit.Window}),
		ratelimit.WithLimit(models.ClassWrite, models.Limit{Requests: cfg.RateLimit.Write, Window: cfg.RateLimit.Window}),
	)

	tokens := jwttoken.NewJWTService(cfg.JWT.SigningKey, jwttoken.WithIssuer(cfg.JWT.Issuer))
	guard := auth.NewGuard(tokens, guardOpts...)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.New(table, fwd, guard, log,
		handler.WithInfo(handler.Info{
			Service:     cfg.ServiceName,
			Version:     cfg.Version,
			Environment: cfg.Environment,
		}),
		handler.WithRequestTimeout(cfg.UpstreamTimeout+cfg.HealthTimeout),
		handler.WithHealthTimeout(cfg.HealthTimeout),
		handler.WithMetrics(m),
		handler.WithRateLimiter(limiter),
		handler.WithClientIPResolver(metadata.NewResolver(cfg.TrustedProxies)),
	).Register(r)

	log.Info("starting gateway",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"backends", len(cfg.Backends),
		"revocation", cfg.RevocationBackend,
		"rate_limit", cfg.RateLimit.Enabled,
		"trusted_proxies", len(cfg.TrustedProxies),
	)
	return httpserver.Run(ctx, httpserver.New(cfg.Addr, r), log, cfg.ShutdownTimeout)
}
