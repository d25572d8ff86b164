// Package domain provides core business rules for the maintenance-request
// bounded context.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a maintenance request.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// validStatuses is the closed set of defined lifecycle states. Any defined
// status is a legal transition target; the audit trail, not a transition
// table, is the source of truth.
var validStatuses = map[Status]bool{
	StatusSubmitted:  true,
	StatusPending:    true,
	StatusAssigned:   true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusArchived:   true,
}

// IsValidStatus reports whether s is a defined lifecycle state.
func IsValidStatus(s Status) bool {
	return validStatuses[s]
}

// Priority of a maintenance request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// IsValidPriority reports whether p is a defined priority tier.
func IsValidPriority(p Priority) bool {
	return validPriorities[p]
}

// Category of the reported issue.
type Category string

const (
	CategoryPlumbing   Category = "plumbing"
	CategoryElectrical Category = "electrical"
	CategoryHVAC       Category = "hvac"
	CategoryAppliance  Category = "appliance"
	CategoryStructural Category = "structural"
	CategoryPest       Category = "pest"
	CategoryOther      Category = "other"
)

// StatusChange is one append-only audit entry in a request's history.
// Entries are totally ordered by the transaction that appended them.
type StatusChange struct {
	Status    Status    `json:"status"`
	ActorID   uuid.UUID `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MaintenanceRequest is the aggregate root of the lifecycle workflow.
// Status always equals the status of the last StatusHistory entry, history
// timestamps are non-decreasing and its length only grows.
type MaintenanceRequest struct {
	ID            uuid.UUID      `json:"id"`
	PropertyID    uuid.UUID      `json:"propertyId"`
	TenantID      uuid.UUID      `json:"tenantId"`
	ContractorID  *uuid.UUID     `json:"contractorId,omitempty"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Category      Category       `json:"category"`
	Priority      Priority       `json:"priority"`
	Status        Status         `json:"status"`
	IsEmergency   bool           `json:"isEmergency"`
	StatusHistory []StatusChange `json:"statusHistory"`
	AssignedDate  *time.Time     `json:"assignedDate,omitempty"`
	CompletedDate *time.Time     `json:"completedDate,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	// Version is the optimistic-concurrency token. Incremented on every
	// write; a stale version loses the transaction race.
	Version int64 `json:"-"`
}

// Bucket is one of a contractor's three mutually exclusive sets of assigned
// request ids.
type Bucket string

const (
	BucketPending  Bucket = "pending"
	BucketOngoing  Bucket = "ongoing"
	BucketFinished Bucket = "finished"
)

// BucketForStatus maps a lifecycle status to the contractor bucket the
// request id belongs in. The second return is false for statuses that imply
// no bucket membership (the request is not with a contractor).
func BucketForStatus(s Status) (Bucket, bool) {
	switch s {
	case StatusAssigned:
		return BucketPending, true
	case StatusInProgress:
		return BucketOngoing, true
	case StatusCompleted, StatusArchived:
		return BucketFinished, true
	default:
		return "", false
	}
}
