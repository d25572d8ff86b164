package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propertyops_backend/internal/email"
	"propertyops_backend/internal/escalation"
	"propertyops_backend/internal/events"
	"propertyops_backend/internal/notifications/channels"
	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	notifrepo "propertyops_backend/internal/notifications/repository"
	"propertyops_backend/internal/notifications/sse"
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

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

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

	rules := notifrepo.NewRules(pool)
	notifStore := notifrepo.NewNotifications(pool)
	prefs := notifrepo.NewPreferences(pool)
	feed := notifrepo.NewFeed(pool)
	directory := notifrepo.NewDirectory(pool)
	hub := sse.NewHub()

	adapters := map[domain.Channel]dispatch.Adapter{
		domain.ChannelEmail: channels.NewEmail(mail),
		domain.ChannelSMS: channels.NewSMS(
			channels.NewHTTPGateway(os.Getenv("SMS_GATEWAY_URL"), os.Getenv("SMS_GATEWAY_KEY"), cfg.GetEmailFromName()),
			cfg.GetDefaultPhoneRegion()),
		domain.ChannelPush:  channels.NewPush(channels.LogProvider{Log: log}),
		domain.ChannelInApp: channels.NewInApp(feed, hub),
	}
	dispatcher := dispatch.New(notifStore, prefs, rules, adapters, cfg.GetChannelTimeout(), log)

	escalations := escalation.NewService(
		escalation.NewRepository(pool), dispatcher, directory, notifStore, eventBus, log, cfg)

	worker, err := scheduler.NewWorker(cfg, cfg, dispatcher, escalations, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
