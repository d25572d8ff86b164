// Package transport defines request/response DTOs for the requests module.
package transport

import (
	"time"

	"propertyops_backend/internal/requests/domain"

	"github.com/google/uuid"
)

// CreateRequestDTO is the payload for submitting a maintenance request.
type CreateRequestDTO struct {
	PropertyID  uuid.UUID `json:"propertyId" binding:"required"`
	Title       string    `json:"title" binding:"required,max=200"`
	Description string    `json:"description" binding:"max=4000"`
	Category    string    `json:"category" binding:"required,oneof=plumbing electrical hvac appliance structural pest other"`
	Priority    string    `json:"priority" binding:"required,oneof=low medium high urgent"`
}

// TransitionDTO is the payload for a status transition.
type TransitionDTO struct {
	Status       string     `json:"status" binding:"required"`
	Notes        string     `json:"notes" binding:"max=2000"`
	ContractorID *uuid.UUID `json:"contractorId,omitempty"`
}

// DeclineDTO is the payload for a contractor declining an assignment.
type DeclineDTO struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// StatusChangeDTO mirrors one audit entry.
type StatusChangeDTO struct {
	Status    string    `json:"status"`
	ActorID   uuid.UUID `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestDTO is the API shape of a maintenance request.
type RequestDTO struct {
	ID            uuid.UUID         `json:"id"`
	PropertyID    uuid.UUID         `json:"propertyId"`
	TenantID      uuid.UUID         `json:"tenantId"`
	ContractorID  *uuid.UUID        `json:"contractorId,omitempty"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Category      string            `json:"category"`
	Priority      string            `json:"priority"`
	Status        string            `json:"status"`
	IsEmergency   bool              `json:"isEmergency"`
	StatusHistory []StatusChangeDTO `json:"statusHistory,omitempty"`
	AssignedDate  *time.Time        `json:"assignedDate,omitempty"`
	CompletedDate *time.Time        `json:"completedDate,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// FromDomain maps a domain request to its API shape.
func FromDomain(r domain.MaintenanceRequest) RequestDTO {
	dto := RequestDTO{
		ID:            r.ID,
		PropertyID:    r.PropertyID,
		TenantID:      r.TenantID,
		ContractorID:  r.ContractorID,
		Title:         r.Title,
		Description:   r.Description,
		Category:      string(r.Category),
		Priority:      string(r.Priority),
		Status:        string(r.Status),
		IsEmergency:   r.IsEmergency,
		AssignedDate:  r.AssignedDate,
		CompletedDate: r.CompletedDate,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	for _, c := range r.StatusHistory {
		dto.StatusHistory = append(dto.StatusHistory, StatusChangeDTO{
			Status:    string(c.Status),
			ActorID:   c.ActorID,
			ActorRole: c.ActorRole,
			Notes:     c.Notes,
			Timestamp: c.Timestamp,
		})
	}
	return dto
}
