package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/internal/auth/password"
	"parley/internal/auth/store/revocation"
	jwttoken "parley/internal/jwt_token"
	"parley/internal/platform/config"
	"parley/internal/platform/httpserver"
	"parley/internal/platform/logger"
	"parley/internal/platform/metrics"
	"parley/internal/platform/postgres"
	platformredis "parley/internal/platform/redis"
	"parley/internal/users/events"
	"parley/internal/users/handler"
	"parley/internal/users/service"
	"parley/internal/users/store"
	"parley/pkg/platform/middleware/auth"
)

const revocationPurgeInterval = 10 * time.Minute

// main wires the identity service. Business logic lives in internal/users.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.UsersFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("users service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Users, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	var db *sql.DB
	if cfg.Postgres.URL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	var users interface {
		service.UserStore
		handler.Pinger
	}
	switch cfg.StoreBackend {
	case config.StorePostgres:
		users = store.NewPostgres(db)
	default:
		log.Warn("using in-memory user store; data is lost on restart")
		users = store.NewInMemory()
	}

	tokens := jwttoken.NewJWTService(cfg.JWT.SigningKey,
		jwttoken.WithIssuer(cfg.JWT.Issuer),
		jwttoken.WithDefaultTTL(cfg.JWT.TTL),
	)

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Kafka.PublishTimeout)
			defer cancel()
			if err := kafka.Close(closeCtx); err != nil {
				log.Warn("failed to flush user events", "error", err)
			}
		}()
		publisher = kafka
	} else {
		log.Info("KAFKA_BROKERS not set; user events are disabled")
	}
	notifier := events.NewNotifier(publisher,
		events.WithTimeout(cfg.Kafka.PublishTimeout),
		events.WithLogger(log),
		events.WithMetrics(m),
	)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithNotifier(notifier),
		service.WithTokenTTL(cfg.JWT.TTL),
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithRequireActiveLogin(cfg.LoginRequireActive),
	}
	var guardOpts []auth.GuardOption

	switch cfg.RevocationBackend {
	case config.RevocationRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		trl := revocation.NewRedisTRL(client.Client, revocation.WithRedisMetrics(m))
		opts = append(opts, service.WithRevoker(trl))
		guardOpts = append(guardOpts, auth.WithRevocationChecker(trl))
	case config.RevocationPostgres:
		trl := revocation.NewPostgresTRL(db, revocation.WithPostgresMetrics(m))
		purgeCtx, stopPurge := context.WithCancel(ctx)
		defer stopPurge()
		go trl.RunPurger(purgeCtx, revocationPurgeInterval, func(err error) {
			log.Warn("failed to purge expired revocations", "error", err)
		})
		opts = append(opts, service.WithRevoker(trl))
		guardOpts = append(guardOpts, auth.WithRevocationChecker(trl))
	}

	hasher := password.New(password.WithCost(cfg.BcryptCost))
	svc := service.New(users, hasher, tokens, opts...)

	r := chi.NewRouter()
	handler.New(svc, auth.NewGuard(tokens, guardOpts...), log, m).Register(r)
	r.Method(http.MethodGet, "/health", handler.NewHealth(cfg.ServiceName, cfg.Version, users, log))
	r.Handle("/metrics", promhttp.Handler())

	log.Info("starting users service",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"store", cfg.StoreBackend,
		"revocation", cfg.RevocationBackend,
	)
	return httpserver.Run(ctx, httpserver.New(cfg.Addr, r), log, cfg.ShutdownTimeout)
}
