// Package app wires configuration and infrastructure into the running
// service modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/slotowl/internal/audit"
	"github.com/wisbric/slotowl/internal/config"
	"github.com/wisbric/slotowl/internal/httpserver"
	"github.com/wisbric/slotowl/internal/keylock"
	"github.com/wisbric/slotowl/internal/platform"
	"github.com/wisbric/slotowl/internal/seed"
	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/agent"
	"github.com/wisbric/slotowl/pkg/calendar"
	"github.com/wisbric/slotowl/pkg/conversation"
	"github.com/wisbric/slotowl/pkg/customer"
	"github.com/wisbric/slotowl/pkg/dedup"
	"github.com/wisbric/slotowl/pkg/events"
	"github.com/wisbric/slotowl/pkg/housekeeping"
	"github.com/wisbric/slotowl/pkg/providers"
	"github.com/wisbric/slotowl/pkg/scheduling"
	"github.com/wisbric/slotowl/pkg/slack"
	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/tools"
	"github.com/wisbric/slotowl/pkg/vault"
	"github.com/wisbric/slotowl/pkg/whatsapp"
)

// Version is the service version reported in traces.
var Version = "0.1.0"

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api, worker or seed).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting slotowl",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, Version, cfg.OTLPSampleRatio)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry()

	var v *vault.Vault
	if cfg.VaultKey != "" {
		if v, err = vault.New(cfg.VaultKey); err != nil {
			return fmt.Errorf("initializing credential vault: %w", err)
		}
	} else {
		logger.Warn("VAULT_KEY not set, google calendars are unavailable")
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, v, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "seed":
		_, err := seed.Run(ctx, db, v, seed.Options{
			ChannelAddress:     cfg.SeedChannelAddress,
			GoogleRefreshToken: cfg.SeedGoogleRefreshToken,
		}, logger)
		return err
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func newLocker(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) keylock.Locker {
	local := keylock.NewLocal()
	if !cfg.SchedulingDistributedLock {
		return local
	}
	return keylock.NewDistributed(local, rdb, cfg.SchedulingLockTTL, logger)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, v *vault.Vault, metricsReg *prometheus.Registry) error {
	// Tool audit writer (async, buffered). Closed after in-flight turns drain.
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	// Tenants
	tenantStore := tenant.NewStore(db, logger)
	resolver := tenant.NewResolver(tenantStore, cfg.TenantCacheTTL, logger)
	go func() {
		if err := resolver.Listen(ctx, rdb); err != nil {
			logger.Error("tenant cache invalidation listener", "error", err)
		}
	}()

	// Calendars
	calOpts := calendar.Options{
		DB:           db,
		Credentials:  tenantStore,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		APIURL:       cfg.CalendarAPIURL,
		Logger:       logger,
	}
	if v != nil {
		calOpts.Sealer = v
	}
	calendars := calendar.NewTenantCalendars(calOpts)

	// Appointment events
	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error("closing kafka publisher", "error", err)
			}
		}()
		publisher = kp
	}

	notifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	engine := scheduling.NewEngine(scheduling.Options{
		Calendars:       calendars,
		Locker:          newLocker(cfg, rdb, logger),
		Publisher:       publisher,
		Alerter:         slack.NewAlerter(notifier, 0, logger),
		DuplicateWindow: cfg.SchedulingDuplicateWindow,
		Logger:          logger,
	})

	customers := customer.NewPostgresStore(db)
	registry := tools.NewRegistry()
	if err := tools.RegisterScheduling(registry, engine, customers, logger); err != nil {
		return fmt.Errorf("registering scheduling tools: %w", err)
	}

	// Outbound
	var sender whatsapp.Sender
	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled, replies are logged instead of sent")
		sender = whatsapp.NewLogSender(logger)
	} else {
		waClient := whatsapp.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAccessToken, nil)
		if !waClient.IsEnabled() {
			logger.Warn("WHATSAPP_ACCESS_TOKEN not set, replies cannot be delivered")
		}
		sender = waClient
	}
	dispatcher := whatsapp.NewDispatcher(sender, whatsapp.DispatcherOptions{
		Timeout:    cfg.WhatsAppSendTimeout,
		RatePerSec: cfg.WhatsAppSendRate,
		MaxLength:  cfg.WhatsAppMaxMessageLength,
		Logger:     logger,
	})

	// Agent
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		logger.Warn("OPENAI_API_KEY not set, every turn will fall back")
	}
	orchestrator := agent.NewOrchestrator(agent.Options{
		Provider: providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			Timeout:     cfg.OpenAITimeout,
			MaxRetries:  cfg.OpenAIMaxRetries,
		}),
		Model:         cfg.OpenAIModel,
		Tools:         registry,
		History:       conversation.NewPostgresStore(db, cfg.AgentHistoryLimit),
		Customers:     customers,
		Dispatcher:    dispatcher,
		Auditor:       auditWriter,
		Locker:        keylock.NewLocal(),
		MaxIterations: cfg.AgentMaxIterations,
		HistoryLimit:  cfg.AgentHistoryLimit,
		TurnTimeout:   cfg.AgentTurnTimeout,
		Logger:        logger,
	})

	// Inbound
	deduplicator := dedup.New(
		dedup.NewRedisStore(rdb, cfg.DedupTTL),
		dedup.NewPostgresStore(db),
		dedup.NewMemoryStore(cfg.DedupTTL, cfg.DedupMemoryMax),
		logger,
		dedup.Metrics{Duplicates: telemetry.DedupDuplicatesTotal, Degraded: telemetry.DedupDegradedTotal},
	)
	appSecret := cfg.WhatsAppAppSecret
	if cfg.DevMode {
		appSecret = ""
	}
	if appSecret == "" {
		logger.Warn("webhook signatures are not verified", "dev_mode", cfg.DevMode)
	}
	waHandler := whatsapp.NewHandler(whatsapp.HandlerOptions{
		VerifyToken:   cfg.WhatsAppVerifyToken,
		AppSecret:     appSecret,
		Dedup:         deduplicator,
		Tenants:       resolver,
		Runner:        orchestrator,
		MaxConcurrent: cfg.AgentMaxConcurrentTurn,
		Logger:        logger,
	})

	srv := httpserver.NewServer(logger, metricsReg, cfg.MetricsPath,
		httpserver.Check{Name: "database", Ping: db.Ping},
		httpserver.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	srv.Router.Mount("/webhooks/whatsapp", waHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		waHandler.Wait()
		return err
	case err := <-errCh:
		waHandler.Wait()
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	worker, err := housekeeping.NewWorker(cfg.HousekeepingSchedule, []housekeeping.Task{
		{Table: "processed_messages", Retention: cfg.ProcessedMessageRetention, Purger: dedup.NewPostgresStore(db)},
		{Table: "tool_audit_log", Retention: cfg.ToolAuditRetention, Purger: audit.NewWriter(db, logger)},
	}, newLocker(cfg, rdb, logger), logger)
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}
