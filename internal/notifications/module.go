// Package notifications is the notification bounded context: rule
// evaluation, delivery fan-out, recipient preferences, the in-app feed, and
// the live event streams.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/internal/events"
	apphttp "propertyops_backend/internal/http"
	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/internal/notifications/engine"
	"propertyops_backend/internal/notifications/handler"
	"propertyops_backend/internal/notifications/repository"
	"propertyops_backend/internal/notifications/sse"
	"propertyops_backend/internal/notifications/transport"
	reqdomain "propertyops_backend/internal/requests/domain"
	reqrepo "propertyops_backend/internal/requests/repository"
	"propertyops_backend/platform/logger"
)

// RequestLister provides the snapshot sent when a request stream opens.
type RequestLister interface {
	List(ctx context.Context, f reqrepo.Filter) ([]reqdomain.MaintenanceRequest, error)
}

// DeliveryScheduler defers delivery of a scheduled notification. Implemented
// by the background job client; nil when no worker infrastructure is
// configured.
type DeliveryScheduler interface {
	ScheduleDelivery(ctx context.Context, notificationID uuid.UUID, at time.Time) error
}

// Deps carries the pre-built collaborators. The dispatcher and repositories
// are constructed in cmd wiring because the escalation module shares them.
type Deps struct {
	Rules         *repository.Rules
	Notifications *repository.Notifications
	Prefs         *repository.Preferences
	Feed          *repository.Feed
	Directory     *repository.Directory
	Hub           *sse.Hub
	Dispatcher    *dispatch.Dispatcher
	Planner       engine.EscalationPlanner
	Requests      RequestLister
	Scheduler     DeliveryScheduler
	Bus           events.Bus
	Log           *logger.Logger
}

// Module is the notifications bounded context module implementing
// http.Module.
type Module struct {
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	hub        *sse.Hub
	handler    *handler.Handler
	streams    *sse.Handler
	notifs     *repository.Notifications
	prefs      *repository.Preferences
	scheduler  DeliveryScheduler
	bus        events.Bus
	log        *logger.Logger
	now        func() time.Time
}

// NewModule creates and initializes the notifications module.
func NewModule(d Deps) *Module {
	eng := engine.New(d.Rules, d.Prefs, d.Directory, d.Notifications, d.Planner, d.Bus, d.Log)

	m := &Module{
		engine:     eng,
		dispatcher: d.Dispatcher,
		hub:        d.Hub,
		notifs:     d.Notifications,
		prefs:      d.Prefs,
		scheduler:  d.Scheduler,
		bus:        d.Bus,
		log:        d.Log,
		now:        time.Now,
	}
	m.handler = handler.New(d.Rules, d.Notifications, d.Prefs, d.Feed, m, d.Dispatcher)
	m.streams = sse.NewHandler(d.Hub, &requestSnapshotter{requests: d.Requests}, d.Feed)
	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notifications"
}

// Engine returns the rule engine, used to register custom predicates.
func (m *Module) Engine() *engine.Engine {
	return m.engine
}

// RegisterRoutes mounts notification routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/notifications", m.handler.Feed)
	ctx.Protected.GET("/notifications/unread-count", m.handler.UnreadCount)
	ctx.Protected.POST("/notifications/:id/read", m.handler.MarkRead)
	ctx.Protected.GET("/notification-preferences", m.handler.GetPreferences)
	ctx.Protected.PUT("/notification-preferences", m.handler.SavePreferences)

	ctx.Protected.GET("/streams/requests", m.streams.StreamRequests)
	ctx.Protected.GET("/streams/notifications", m.streams.StreamNotifications)

	ctx.Admin.POST("/notification-rules", m.handler.CreateRule)
	ctx.Admin.GET("/notification-rules", m.handler.ListRules)
	ctx.Admin.GET("/notification-rules/:id", m.handler.GetRule)
	ctx.Admin.PUT("/notification-rules/:id", m.handler.UpdateRule)
	ctx.Admin.POST("/notification-rules/:id/toggle", m.handler.ToggleRule)
	ctx.Admin.DELETE("/notification-rules/:id", m.handler.DeleteRule)

	ctx.Admin.POST("/notifications", m.handler.Send)
	ctx.Admin.GET("/notifications/:id", m.handler.Get)
	ctx.Admin.POST("/notifications/:id/cancel", m.handler.Cancel)
	ctx.Admin.POST("/notifications/:id/deliver", m.handler.Redeliver)
}

// RegisterHandlers subscribes to the lifecycle events that drive rules and
// live streams.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.RequestCreated{}.EventName(), m)
	bus.Subscribe(events.RequestStatusChanged{}.EventName(), m)
	bus.Subscribe(events.AssignmentDeclined{}.EventName(), m)
	bus.Subscribe(events.CommunicationReceived{}.EventName(), m)
	bus.Subscribe(events.NotificationCreated{}.EventName(), m)
}

// Handle converts bus events into rule evaluations, stream pushes, and
// deliveries.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.RequestCreated:
		m.hub.PublishRequest(sse.RequestEvent{
			RequestID:   e.RequestID,
			PropertyID:  e.PropertyID,
			Status:      string(reqdomain.StatusSubmitted),
			Priority:    e.Priority,
			IsEmergency: e.IsEmergency,
			OccurredAt:  e.OccurredAt(),
		})
		return m.engine.Evaluate(ctx, domain.TriggerEvent{
			Type:       domain.TriggerRequestCreated,
			RequestID:  e.RequestID,
			PropertyID: e.PropertyID,
			TenantID:   e.TenantID,
			Priority:   domain.Priority(e.Priority),
			Status:     string(reqdomain.StatusSubmitted),
			OccurredAt: e.OccurredAt(),
		})
	case events.RequestStatusChanged:
		m.hub.PublishRequest(sse.RequestEvent{
			RequestID:   e.RequestID,
			PropertyID:  e.PropertyID,
			Status:      e.To,
			Priority:    e.Priority,
			IsEmergency: e.IsEmergency,
			OccurredAt:  e.OccurredAt(),
		})
		return m.engine.Evaluate(ctx, domain.TriggerEvent{
			Type:       domain.TriggerRequestStatusChanged,
			RequestID:  e.RequestID,
			PropertyID: e.PropertyID,
			TenantID:   e.TenantID,
			ActorRole:  e.ActorRole,
			Priority:   domain.Priority(e.Priority),
			Status:     e.To,
			OccurredAt: e.OccurredAt(),
		})
	case events.AssignmentDeclined:
		return m.engine.Evaluate(ctx, domain.TriggerEvent{
			Type:       domain.TriggerAssignmentDeclined,
			RequestID:  e.RequestID,
			PropertyID: e.PropertyID,
			ActorRole:  "contractor",
			Priority:   domain.PriorityHigh,
			OccurredAt: e.OccurredAt(),
		})
	case events.CommunicationReceived:
		return m.engine.Evaluate(ctx, domain.TriggerEvent{
			Type:       domain.TriggerMessageReceived,
			RequestID:  e.RequestID,
			PropertyID: e.PropertyID,
			ActorRole:  e.SenderRole,
			Priority:   domain.PriorityNormal,
			OccurredAt: e.OccurredAt(),
		})
	case events.NotificationCreated:
		return m.deliverOrDefer(ctx, e)
	default:
		return nil
	}
}

func (m *Module) deliverOrDefer(ctx context.Context, e events.NotificationCreated) error {
	if e.ScheduledFor != nil && e.ScheduledFor.After(m.now()) {
		if m.scheduler == nil {
			m.log.Warn("no delivery scheduler configured, scheduled notification will not send",
				"notification_id", e.NotificationID)
			return nil
		}
		return m.scheduler.ScheduleDelivery(ctx, e.NotificationID, *e.ScheduledFor)
	}
	return m.dispatcher.Deliver(ctx, e.NotificationID)
}

// Send creates an operator-initiated notification, applying each
// recipient's preferences the same way rule-driven sends do.
func (m *Module) Send(ctx context.Context, dto transport.SendDTO) (domain.Notification, error) {
	prefs, err := m.prefs.GetMany(ctx, dto.Recipients)
	if err != nil {
		return domain.Notification{}, err
	}
	now := m.now()
	recipients := make([]domain.Recipient, 0, len(dto.Recipients))
	for _, id := range dto.Recipients {
		p, ok := prefs[id]
		if !ok {
			continue
		}
		recipients = append(recipients, domain.Recipient{
			UserID:   id,
			Channels: p.AllowedChannels(dto.Channels, dto.Priority, now),
		})
	}

	n := domain.Notification{
		ID:           uuid.New(),
		Type:         "manual",
		Priority:     dto.Priority,
		Title:        dto.Title,
		Message:      dto.Message,
		Recipients:   recipients,
		Status:       domain.StatusPending,
		ScheduledFor: dto.ScheduledFor,
		ExpiresAt:    dto.ExpiresAt,
	}
	if err := m.notifs.Insert(ctx, &n); err != nil {
		return domain.Notification{}, err
	}
	m.bus.Publish(ctx, events.NotificationCreated{
		BaseEvent:      events.NewBaseEvent(),
		NotificationID: n.ID,
		Priority:       string(n.Priority),
		ScheduledFor:   n.ScheduledFor,
	})
	return n, nil
}

// requestSnapshotter adapts the request service to the stream handler.
type requestSnapshotter struct {
	requests RequestLister
}

func (s *requestSnapshotter) Snapshot(ctx context.Context, filter sse.RequestFilter) (any, error) {
	f := reqrepo.Filter{
		Status:   reqdomain.Status(filter.Status),
		Priority: reqdomain.Priority(filter.Priority),
	}
	if filter.PropertyID != nil {
		f.PropertyID = *filter.PropertyID
	}
	return s.requests.List(ctx, f)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
