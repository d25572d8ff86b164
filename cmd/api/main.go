package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propertyops_backend/internal/bulk"
	"propertyops_backend/internal/contractors"
	"propertyops_backend/internal/email"
	"propertyops_backend/internal/escalation"
	"propertyops_backend/internal/events"
	apphttp "propertyops_backend/internal/http"
	"propertyops_backend/internal/http/router"
	"propertyops_backend/internal/notifications"
	"propertyops_backend/internal/notifications/channels"
	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	notifrepo "propertyops_backend/internal/notifications/repository"
	"propertyops_backend/internal/notifications/sse"
	"propertyops_backend/internal/requests"
	"propertyops_backend/internal/scheduler"
	"propertyops_backend/platform/config"
	"propertyops_backend/platform/db"
	"propertyops_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	deliveryScheduler, closeScheduler := initDeliveryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	requestsModule := requests.NewModule(pool, eventBus, log)

	contractorsModule := contractors.NewModule(pool, requestsModule.Repository(), eventBus, log)
	contractorsModule.RegisterHandlers(eventBus)

	bulkRepo := bulk.NewRepository(pool)
	bulkModule := bulk.NewModule(
		bulk.NewService(requestsModule.Service(), requestsModule.Repository(), bulkRepo, eventBus, log),
		bulkRepo,
	)

	// Notification plumbing is shared between the notifications and
	// escalation modules, so it is built here rather than inside a module.
	rules := notifrepo.NewRules(pool)
	notifStore := notifrepo.NewNotifications(pool)
	prefs := notifrepo.NewPreferences(pool)
	feed := notifrepo.NewFeed(pool)
	directory := notifrepo.NewDirectory(pool)
	hub := sse.NewHub()

	dispatcher := dispatch.New(notifStore, prefs, rules, buildAdapters(cfg, log, feed, hub), cfg.GetChannelTimeout(), log)

	escalationModule := escalation.NewModule(pool, dispatcher, directory, notifStore, eventBus, log, cfg)
	if err := escalationModule.Service().SeedLadders(ctx, cfg.GetEscalationLadderFile()); err != nil {
		log.Warn("escalation ladder seed failed", "file", cfg.GetEscalationLadderFile(), "error", err)
	}

	notificationsModule := notifications.NewModule(notifications.Deps{
		Rules:         rules,
		Notifications: notifStore,
		Prefs:         prefs,
		Feed:          feed,
		Directory:     directory,
		Hub:           hub,
		Dispatcher:    dispatcher,
		Planner:       escalationModule.Service(),
		Requests:      requestsModule.Service(),
		Scheduler:     deliveryScheduler,
		Bus:           eventBus,
		Log:           log,
	})
	notificationsModule.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			requestsModule,
			contractorsModule,
			bulkModule,
			notificationsModule,
			escalationModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// buildAdapters wires one delivery adapter per channel. Email and SMS fall
// back to log-only backends when the external service is not configured.
func buildAdapters(cfg *config.Config, log *logger.Logger, feed *notifrepo.Feed, hub *sse.Hub) map[domain.Channel]dispatch.Adapter {
	var mail channels.MailSender
	if cfg.GetEmailEnabled() && cfg.GetSMTPHost() != "" {
		mail = email.NewSMTPSender(
			cfg.GetSMTPHost(), cfg.GetSMTPPort(),
			cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(), cfg.GetEmailFromName(),
		)
	} else {
		log.Warn("SMTP not configured; email deliveries are logged only")
		mail = email.LogSender{Log: log}
	}

	return map[domain.Channel]dispatch.Adapter{
		domain.ChannelEmail: channels.NewEmail(mail),
		domain.ChannelSMS: channels.NewSMS(
			channels.NewHTTPGateway(os.Getenv("SMS_GATEWAY_URL"), os.Getenv("SMS_GATEWAY_KEY"), cfg.GetEmailFromName()),
			cfg.GetDefaultPhoneRegion()),
		domain.ChannelPush:  channels.NewPush(channels.LogProvider{Log: log}),
		domain.ChannelInApp: channels.NewInApp(feed, hub),
	}
}

func initDeliveryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (notifications.DeliveryScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; scheduled notifications disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
