// Package config reads process configuration from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"parley/pkg/platform/middleware/metadata"
	pstrings "parley/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"

	// devSigningKey is only accepted when ENVIRONMENT=development.
	devSigningKey = "dev-secret-key-change-in-production"
)

// Revocation list backends.
const (
	RevocationNone     = "none"
	RevocationRedis    = "redis"
	RevocationPostgres = "postgres"
)

// Rate limit counter backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Credential store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// JWTConfig is shared by the issuing and verifying services. The signing key
// must be identical in both or every token fails verification.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	Topic          string
	ClientID       string
	PublishTimeout time.Duration
}

// RateLimitConfig sets per-client-IP budgets for the gateway. A budget of
// zero leaves that class unlimited.
type RateLimitConfig struct {
	Enabled bool
	Backend string
	Window  time.Duration
	Auth    int
	Read    int
	Write   int
}

type LogConfig struct {
	Level  string
	Format string
}

// Users configures the identity service.
type Users struct {
	Addr               string
	Environment        string
	ServiceName        string
	Version            string
	JWT                JWTConfig
	BcryptCost         int
	LoginRequireActive bool
	StoreBackend       string
	StoreTimeout       time.Duration
	RevocationBackend  string
	ShutdownTimeout    time.Duration
	Postgres           PostgresConfig
	Redis              RedisConfig
	Kafka              KafkaConfig
	Log                LogConfig
}

// Gateway configures the request-routing façade. Backends maps backend names
// to base URLs.
type Gateway struct {
	Addr              string
	Environment       string
	ServiceName       string
	Version           string
	JWT               JWTConfig
	UpstreamTimeout   time.Duration
	HealthTimeout     time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
	RevocationBackend string
	ShutdownTimeout   time.Duration
	Backends          map[string]string
	RateLimit         RateLimitConfig
	Postgres          PostgresConfig
	Redis             RedisConfig
	Log               LogConfig

	// TrustedProxies are the peers whose forwarding headers name the client.
	// Empty means every peer is a rewriting edge proxy.
	TrustedProxies []netip.Prefix
}

// backendEnv lists the backend base URL variables and their local defaults.
var backendEnv = []struct {
	name, key, def string
}{
	{"users", "USERS_SERVICE_URL", "http://localhost:8081"},
	{"channels", "CHANNEL_SERVICE_URL", "http://localhost:8082"},
	{"messages", "MESSAGES_SERVICE_URL", "http://localhost:8083"},
	{"files", "FILES_SERVICE_URL", "http://localhost:8084"},
	{"moderation", "MODERATION_SERVICE_URL", "http://localhost:8085"},
	{"presence", "PRESENCE_SERVICE_URL", "http://localhost:8086"},
	{"search", "SEARCH_SERVICE_URL", "http://localhost:8087"},
	{"chatbot-wikipedia", "CHATBOT_WIKIPEDIA_URL", "http://localhost:8088"},
	{"chatbot-programming", "CHATBOT_PROGRAMMING_URL", "http://localhost:8089"},
}

// LoadDotEnv loads .env style files if they exist. Variables already set in
// the environment are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// UsersFromEnv builds the identity service configuration.
func UsersFromEnv() (Users, error) {
	r := &reader{}
	cfg := Users{
		Addr:               r.str("USERS_ADDR", ":8081"),
		Environment:        r.str("ENVIRONMENT", EnvDevelopment),
		ServiceName:        r.str("APP_NAME", "users-service"),
		Version:            r.str("APP_VERSION", "v1"),
		BcryptCost:         r.integer("BCRYPT_COST", 12),
		LoginRequireActive: r.boolean("USERS_LOGIN_REQUIRE_ACTIVE", true),
		StoreTimeout:       r.duration("USERS_STORE_TIMEOUT", 3*time.Second),
		RevocationBackend:  r.str("REVOCATION_BACKEND", RevocationNone),
		ShutdownTimeout:    r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Postgres:           r.postgres(),
		Redis:              r.redis(),
		Kafka: KafkaConfig{
			Brokers:        r.list("KAFKA_BROKERS"),
			Topic:          r.str("KAFKA_TOPIC", "parley.users"),
			ClientID:       r.str("KAFKA_CLIENT_ID", "users-service"),
			PublishTimeout: r.duration("EVENTS_PUBLISH_TIMEOUT", 2*time.Second),
		},
		Log: r.log(),
	}
	cfg.JWT = r.jwt(cfg.Environment)

	defaultStore := StoreMemory
	if cfg.Postgres.URL != "" {
		defaultStore = StorePostgres
	}
	cfg.StoreBackend = r.str("USERS_STORE", defaultStore)
	if cfg.StoreBackend != StoreMemory && cfg.StoreBackend != StorePostgres {
		r.fail("USERS_STORE must be %q or %q", StoreMemory, StorePostgres)
	}
	if cfg.StoreBackend == StorePostgres && cfg.Postgres.URL == "" {
		r.fail("DATABASE_URL is required when USERS_STORE=postgres")
	}
	r.checkRevocation(cfg.RevocationBackend, cfg.Redis, cfg.Postgres)
	return cfg, r.err()
}

// GatewayFromEnv builds the gateway configuration.
func GatewayFromEnv() (Gateway, error) {
	r := &reader{}
	cfg := Gateway{
		Addr:              r.str("GATEWAY_ADDR", ":8080"),
		Environment:       r.str("ENVIRONMENT", EnvDevelopment),
		ServiceName:       r.str("APP_NAME", "api-gateway"),
		Version:           r.str("APP_VERSION", "v1"),
		UpstreamTimeout:   r.duration("GATEWAY_UPSTREAM_TIMEOUT", 30*time.Second),
		HealthTimeout:     r.duration("GATEWAY_HEALTH_TIMEOUT", 3*time.Second),
		BreakerFailures:   r.integer("GATEWAY_BREAKER_FAILURES", 5),
		BreakerCooldown:   r.duration("GATEWAY_BREAKER_COOLDOWN", 30*time.Second),
		RevocationBackend: r.str("REVOCATION_BACKEND", RevocationNone),
		ShutdownTimeout:   r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Backends:          make(map[string]string, len(backendEnv)),
		RateLimit:         r.rateLimit(),
		Postgres:          r.postgres(),
		Redis:             r.redis(),
		Log:               r.log(),
	}
	cfg.JWT = r.jwt(cfg.Environment)
	for _, b := range backendEnv {
		cfg.Backends[b.name] = strings.TrimRight(r.str(b.key, b.def), "/")
	}
	if cfg.UpstreamTimeout <= 0 {
		r.fail("GATEWAY_UPSTREAM_TIMEOUT must be positive")
	}
	cfg.TrustedProxies = r.trustedProxies()
	r.checkRevocation(cfg.RevocationBackend, cfg.Redis, cfg.Postgres)
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == RateLimitRedis && cfg.Redis.URL == "" {
		r.fail("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
	}
	return cfg, r.err()
}

// reader accumulates parse errors so one bad variable does not hide the next.
type reader struct {
	errs []error
}

func (r *reader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf(format, args...))
}

func (r *reader) err() error {
	return errors.Join(r.errs...)
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail("%s: invalid integer %q", key, v)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail("%s: invalid boolean %q", key, v)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail("%s: invalid duration %q", key, v)
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	return pstrings.SplitList(r.str(key, ""), ",")
}

func (r *reader) trustedProxies() []netip.Prefix {
	prefixes, err := metadata.ParseTrustedProxies(r.list("TRUSTED_PROXIES"))
	if err != nil {
		r.fail("TRUSTED_PROXIES: %v", err)
		return nil
	}
	return prefixes
}

func (r *reader) jwt(environment string) JWTConfig {
	cfg := JWTConfig{
		SigningKey: r.str("JWT_SECRET", ""),
		Issuer:     r.str("JWT_ISSUER", "parley"),
		TTL:        r.duration("JWT_TTL", time.Hour),
	}
	if minutes := r.integer("JWT_EXPIRES_MIN", 0); minutes > 0 {
		cfg.TTL = time.Duration(minutes) * time.Minute
	}
	if alg := r.str("JWT_ALG", "HS256"); alg != "HS256" {
		r.fail("JWT_ALG: only HS256 is supported, got %q", alg)
	}
	if cfg.SigningKey == "" {
		if environment != EnvDevelopment {
			r.fail("JWT_SECRET is required outside development")
		}
		cfg.SigningKey = devSigningKey
	}
	if cfg.TTL <= 0 {
		r.fail("JWT_TTL must be positive")
	}
	return cfg
}

func (r *reader) postgres() PostgresConfig {
	return PostgresConfig{
		URL:             r.str("DATABASE_URL", ""),
		MaxOpenConns:    r.integer("PG_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    r.integer("PG_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: r.duration("PG_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func (r *reader) redis() RedisConfig {
	return RedisConfig{
		URL:          r.str("REDIS_URL", ""),
		PoolSize:     r.integer("REDIS_POOL_SIZE", 10),
		MinIdleConns: r.integer("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", time.Second),
	}
}

func (r *reader) rateLimit() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: r.boolean("RATE_LIMIT_ENABLED", true),
		Backend: r.str("RATE_LIMIT_BACKEND", RateLimitMemory),
		Window:  r.duration("RATE_LIMIT_WINDOW", time.Minute),
		Auth:    r.integer("RATE_LIMIT_AUTH", 10),
		Read:    r.integer("RATE_LIMIT_READ", 300),
		Write:   r.integer("RATE_LIMIT_WRITE", 120),
	}
	switch cfg.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		r.fail("RATE_LIMIT_BACKEND must be one of memory, redis; got %q", cfg.Backend)
	}
	if cfg.Window <= 0 {
		r.fail("RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.Auth < 0 || cfg.Read < 0 || cfg.Write < 0 {
		r.fail("RATE_LIMIT_AUTH, RATE_LIMIT_READ and RATE_LIMIT_WRITE must not be negative")
	}
	return cfg
}

func (r *reader) log() LogConfig {
	return LogConfig{
		Level:  r.str("LOG_LEVEL", "info"),
		Format: r.str("LOG_FORMAT", "json"),
	}
}

func (r *reader) checkRevocation(backend string, redis RedisConfig, pg PostgresConfig) {
	switch backend {
	case RevocationNone:
	case RevocationRedis:
		if redis.URL == "" {
			r.fail("REDIS_URL is required when REVOCATION_BACKEND=redis")
		}
	case RevocationPostgres:
		if pg.URL == "" {
			r.fail("DATABASE_URL is required when REVOCATION_BACKEND=postgres")
		}
	default:
		r.fail("REVOCATION_BACKEND must be one of none, redis, postgres; got %q", backend)
	}
}
