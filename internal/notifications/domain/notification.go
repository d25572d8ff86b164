// Package domain defines the notification, rule, and preference models for
// the notification engine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery channel handled by an adapter.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// noisyChannels are suppressed during a recipient's quiet hours unless the
// notification is urgent. in_app is never suppressed.
var noisyChannels = map[Channel]bool{
	ChannelEmail: true,
	ChannelSMS:   true,
	ChannelPush:  true,
}

// IsNoisy reports whether the channel is subject to quiet-hours suppression.
func IsNoisy(c Channel) bool {
	return noisyChannels[c]
}

// Status of a notification record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Recipient is one addressee with the channel set that survived preference
// intersection and quiet-hours filtering.
type Recipient struct {
	UserID   uuid.UUID `json:"userId"`
	Channels []Channel `json:"channels"`
}

// DeliveryState records the outcome of one (recipient, channel) dispatch.
type DeliveryState struct {
	Sent        bool       `json:"sent"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// DeliveryKey identifies one (recipient, channel) pair in the delivery map.
func DeliveryKey(userID uuid.UUID, channel Channel) string {
	return userID.String() + ":" + string(channel)
}

// EscalationStep is one appended entry in the escalation history.
type EscalationStep struct {
	Level       int         `json:"level"`
	TriggeredAt time.Time   `json:"triggeredAt"`
	Recipients  []uuid.UUID `json:"recipients"`
	Success     bool        `json:"success"`
}

// EscalationState is the scheduler-owned sub-state of a notification.
type EscalationState struct {
	RuleID           *uuid.UUID       `json:"ruleId,omitempty"`
	Level            int              `json:"level"`
	NextEscalationAt *time.Time       `json:"nextEscalationAt,omitempty"`
	History          []EscalationStep `json:"history,omitempty"`
	AcknowledgedAt   *time.Time       `json:"acknowledgedAt,omitempty"`
}

// Notification is created once per triggering event per rule match. Delivery
// and escalation sub-state are mutated exclusively by the dispatcher and the
// escalation scheduler.
type Notification struct {
	ID           uuid.UUID                `json:"id"`
	RuleID       *uuid.UUID               `json:"ruleId,omitempty"`
	Type         string                   `json:"type"`
	Priority     Priority                 `json:"priority"`
	Title        string                   `json:"title"`
	Message      string                   `json:"message"`
	Recipients   []Recipient              `json:"recipients"`
	Delivery     map[string]DeliveryState `json:"delivery,omitempty"`
	Escalation   *EscalationState         `json:"escalation,omitempty"`
	Status       Status                   `json:"status"`
	ScheduledFor *time.Time               `json:"scheduledFor,omitempty"`
	ExpiresAt    *time.Time               `json:"expiresAt,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// Acknowledged reports whether a recipient has acknowledged the notification.
func (n *Notification) Acknowledged() bool {
	return n.Escalation != nil && n.Escalation.AcknowledgedAt != nil
}
