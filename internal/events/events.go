// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"propertyops_backend/platform/events"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = func(log *logger.Logger) *InMemoryBus { return events.NewInMemoryBus(log) }
)

// =============================================================================
// Maintenance Request Lifecycle Events
// =============================================================================

// RequestCreated is published when a tenant submits a new maintenance request.
type RequestCreated struct {
	BaseEvent
	RequestID   uuid.UUID `json:"requestId"`
	PropertyID  uuid.UUID `json:"propertyId"`
	TenantID    uuid.UUID `json:"tenantId"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	IsEmergency bool      `json:"isEmergency"`
	Title       string    `json:"title"`
}

func (e RequestCreated) EventName() string { return "maintenance_request.created" }

// RequestStatusChanged is published after every successful status transition.
// Consumed by the assignment coordinator (bucket moves) and the notification
// rule engine.
type RequestStatusChanged struct {
	BaseEvent
	RequestID    uuid.UUID  `json:"requestId"`
	PropertyID   uuid.UUID  `json:"propertyId"`
	TenantID     uuid.UUID  `json:"tenantId"`
	ContractorID *uuid.UUID `json:"contractorId,omitempty"`
	From         string     `json:"from"`
	To           string     `json:"to"`
	Priority     string     `json:"priority"`
	IsEmergency  bool       `json:"isEmergency"`
	ActorID      uuid.UUID  `json:"actorId"`
	ActorRole    string     `json:"actorRole"`
}

func (e RequestStatusChanged) EventName() string { return "maintenance_request.status_changed" }

// AssignmentDeclined is published when a contractor declines an assignment.
// The request has already been reverted to pending when this fires.
type AssignmentDeclined struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	PropertyID   uuid.UUID `json:"propertyId"`
	ContractorID uuid.UUID `json:"contractorId"`
	Reason       string    `json:"reason"`
}

func (e AssignmentDeclined) EventName() string { return "maintenance_request.assignment_declined" }

// CommunicationReceived is published when a message arrives on a request
// thread. The messaging surface itself lives outside this subsystem; the
// event exists so notification rules can trigger on it.
type CommunicationReceived struct {
	BaseEvent
	RequestID  uuid.UUID `json:"requestId"`
	PropertyID uuid.UUID `json:"propertyId"`
	SenderID   uuid.UUID `json:"senderId"`
	SenderRole string    `json:"senderRole"`
	Preview    string    `json:"preview"`
}

func (e CommunicationReceived) EventName() string { return "communication.message_received" }

// =============================================================================
// Bulk Operation Events
// =============================================================================

// BulkOperationCompleted is published when a bulk run finishes, regardless of
// per-item outcomes. Failed items are reported as data on the audit record.
type BulkOperationCompleted struct {
	BaseEvent
	OperationID   uuid.UUID `json:"operationId"`
	OperationType string    `json:"operationType"`
	InitiatedBy   uuid.UUID `json:"initiatedBy"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
}

func (e BulkOperationCompleted) EventName() string { return "bulk_operation.completed" }

// =============================================================================
// Notification Events
// =============================================================================

// NotificationCreated is published when the rule engine materializes a
// notification record. The dispatcher delivers it immediately unless
// ScheduledFor is set in the future.
type NotificationCreated struct {
	BaseEvent
	NotificationID uuid.UUID  `json:"notificationId"`
	RuleID         *uuid.UUID `json:"ruleId,omitempty"`
	Priority       string     `json:"priority"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
}

func (e NotificationCreated) EventName() string { return "notification.created" }

// NotificationAcknowledged is published when a recipient reads or responds to
// a notification. Terminal for the escalation ladder.
type NotificationAcknowledged struct {
	BaseEvent
	NotificationID uuid.UUID `json:"notificationId"`
	UserID         uuid.UUID `json:"userId"`
}

func (e NotificationAcknowledged) EventName() string { return "notification.acknowledged" }
