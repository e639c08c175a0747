package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/davidleathers/crm-dnc-relay/internal/api/rest"
	domaindnc "github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/cache"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/config"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/database"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/telemetry"
	"github.com/davidleathers/crm-dnc-relay/internal/metrics"
	"github.com/davidleathers/crm-dnc-relay/internal/service/credentials"
	"github.com/davidleathers/crm-dnc-relay/internal/service/crm"
	"github.com/davidleathers/crm-dnc-relay/internal/service/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/service/dnc/providers"
	"github.com/davidleathers/crm-dnc-relay/internal/service/flagging"
	"github.com/davidleathers/crm-dnc-relay/internal/service/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting crm dnc relay",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend))

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		ExportTimeout:  10 * time.Second,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(pool, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	store, err := newCacheStore(cfg, pool, redisClient, logger)
	if err != nil {
		return err
	}

	reg := newRegistry()
	registerPoolMetrics(reg, pool)
	promSink := metrics.NewPrometheusSink(reg)
	otelSink, err := metrics.NewOTelSink(telemetry.Meter("crm-dnc-relay/dnc"))
	if err != nil {
		return err
	}

	blacklist := guard(providers.NewBlacklistChecker(listConfig(cfg.Blacklist), logger), cfg.Blacklist, domaindnc.ListCompanyBlacklist, promSink, logger)
	national := guard(providers.NewNationalChecker(listConfig(cfg.National), logger), cfg.National, domaindnc.ListNationalRegistry, promSink, logger)

	dncService, err := dnc.NewService(logger, &dnc.Config{
		BlacklistTTL: cfg.Cache.BlacklistTTL,
		NationalTTL:  cfg.Cache.NationalTTL,
		CacheTimeout: cfg.Cache.Timeout,
	}, store, blacklist, national, metrics.MultiSink{metrics.NewLogSink(logger), promSink, otelSink})
	if err != nil {
		return fmt.Errorf("creating dnc service: %w", err)
	}

	crmClient := crm.NewClient(crm.Config{
		BaseURL:      cfg.CRM.BaseURL,
		APIVersion:   cfg.CRM.APIVersion,
		Timeout:      cfg.CRM.Timeout,
		MaxRetries:   cfg.CRM.MaxRetries,
		RateLimitRPS: cfg.CRM.RateLimitRPS,
	}, logger)

	gateway, err := flagging.NewGateway(crmClient, logger)
	if err != nil {
		return fmt.Errorf("creating flagging gateway: %w", err)
	}

	resolver, err := credentials.NewResolver(credentials.NewStore(database.OpenDB(pool)), &oauth2.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.OAuth.AuthURL,
			TokenURL:  cfg.OAuth.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.OAuth.RedirectURL,
		Scopes:      cfg.OAuth.Scopes,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating credential resolver: %w", err)
	}

	processor, err := webhook.NewProcessor(resolver, crmClient, dncService, gateway, logger)
	if err != nil {
		return fmt.Errorf("creating webhook processor: %w", err)
	}

	router, err := newRouter(cfg, logger, reg, pool, redisClient, processor, resolver, dncService)
	if err != nil {
		return err
	}

	server := rest.NewServer(cfg.Server, router, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newCacheStore(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *zap.Logger) (domaindnc.CacheStore, error) {
	if cfg.Cache.Backend == "redis" {
		if redisClient == nil {
			return nil, fmt.Errorf("redis cache backend selected but redis.url is empty")
		}
		return cache.NewDNCCacheStore(redisClient, cfg.Cache.KeyPrefix, cfg.Cache.Retention, logger)
	}
	return database.NewDNCCacheRepository(pool), nil
}

func listConfig(c config.ListConfig) providers.Config {
	return providers.Config{
		BaseURL:      c.BaseURL,
		Path:         c.Path,
		APIKey:       c.APIKey,
		APIKeyHeader: c.APIKeyHeader,
		Timeout:      c.Timeout,
		RateLimitRPS: c.RateLimitRPS,
		UserAgent:    "crm-dnc-relay",
	}
}

// guard wraps checker in a circuit breaker whose state is exported.
func guard(checker providers.Checker, c config.ListConfig, list domaindnc.List, sink *metrics.PrometheusSink, logger *zap.Logger) providers.Checker {
	breaker := dnc.NewCircuitBreaker(dnc.CircuitBreakerConfig{
		FailureThreshold: c.BreakerFailures,
		Timeout:          c.BreakerCooldown,
	})
	sink.SetBreakerState(list.String(), string(breaker.State()))
	breaker.OnStateChange(func(_, to dnc.CircuitState) {
		sink.SetBreakerState(list.String(), string(to))
	})
	return dnc.WithCircuitBreaker(checker, breaker, logger)
}

func newRouter(
	cfg *config.Config,
	logger *zap.Logger,
	reg *prometheus.Registry,
	pool *pgxpool.Pool,
	redisClient *redis.Client,
	processor *webhook.Processor,
	resolver *credentials.Resolver,
	checker dnc.Service,
) (http.Handler, error) {
	var dedup rest.DeliveryDeduplicator
	if redisClient != nil {
		dedup = cache.NewDeduplicator(redisClient, cfg.Cache.KeyPrefix, cfg.Webhook.DedupTTL)
	}

	webhookHandler, err := rest.NewWebhookHandler(processor, dedup, cfg.Webhook.SigningKey, cfg.Webhook.Timeout, logger)
	if err != nil {
		return nil, err
	}

	signer, err := rest.NewStateSigner(cfg.OAuth.StateSecret, cfg.OAuth.StateTTL)
	if err != nil {
		return nil, err
	}
	oauthHandler, err := rest.NewOAuthHandler(resolver, signer, logger)
	if err != nil {
		return nil, err
	}

	dncHandler, err := rest.NewDNCHandler(checker, logger)
	if err != nil {
		return nil, err
	}

	checks := []rest.HealthCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return database.Ping(ctx, pool) },
	}}
	if redisClient != nil {
		checks = append(checks, rest.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	return rest.NewRouter(rest.RouterConfig{
		Logger:       logger,
		Webhook:      webhookHandler,
		OAuth:        oauthHandler,
		DNC:          dncHandler,
		Health:       rest.NewHealthHandler(2*time.Second, checks...),
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Metrics:      metricsHandler(reg),
		AdminAPIKey:  cfg.Server.AdminAPIKey,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}), nil
}
