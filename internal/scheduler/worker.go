package scheduler

import (
	"context"
	"fmt"
	"time"

	"propertyops_backend/internal/escalation"
	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/platform/config"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Worker struct {
	server       *asynq.Server
	scheduler    *asynq.Scheduler
	mux          *asynq.ServeMux
	dispatcher   *dispatch.Dispatcher
	escalations  *escalation.Service
	tickInterval time.Duration
	log          *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, escCfg config.EscalationConfig, dispatcher *dispatch.Dispatcher, escalations *escalation.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	periodic := asynq.NewScheduler(opt, nil)

	mux := asynq.NewServeMux()
	w := &Worker{
		server:       server,
		scheduler:    periodic,
		mux:          mux,
		dispatcher:   dispatcher,
		escalations:  escalations,
		tickInterval: escCfg.GetEscalationTickInterval(),
		log:          log,
	}

	mux.HandleFunc(TaskNotificationDeliver, w.handleNotificationDeliver)
	mux.HandleFunc(TaskEscalationTick, w.handleEscalationTick)

	return w, nil
}

func (w *Worker) handleNotificationDeliver(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNotificationDeliverPayload(task)
	if err != nil {
		return err
	}

	notificationID, err := uuid.Parse(payload.NotificationID)
	if err != nil {
		return err
	}

	return w.dispatcher.Deliver(ctx, notificationID)
}

func (w *Worker) handleEscalationTick(ctx context.Context, _ *asynq.Task) error {
	summary, err := w.escalations.Tick(ctx)
	if err != nil {
		return err
	}
	if summary.Due > 0 {
		w.log.Info("escalation tick",
			"due", summary.Due,
			"advanced", summary.Advanced,
			"exhausted", summary.Exhausted,
			"claim_lost", summary.ClaimLost,
			"errors", summary.Errors)
	}
	return nil
}

// Run starts the periodic tick registration and the task server. It blocks
// until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	interval := w.tickInterval
	if interval < time.Second {
		interval = time.Minute
	}
	if _, err := w.scheduler.Register(fmt.Sprintf("@every %s", interval), NewEscalationTickTask()); err != nil {
		w.log.Error("register escalation tick failed", "error", err)
	}
	go func() {
		if err := w.scheduler.Run(); err != nil {
			w.log.Error("periodic scheduler stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		w.scheduler.Shutdown()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
