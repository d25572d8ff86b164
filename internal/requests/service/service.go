// Package service implements the maintenance-request lifecycle state machine.
package service

import (
	"context"
	"time"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/requests/domain"
	"propertyops_backend/internal/requests/repository"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/db"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate     = "requests.service.create"
	opTransition = "requests.service.transition"
)

type Service struct {
	pool *pgxpool.Pool
	repo *repository.Repository
	bus  events.Bus
	log  *logger.Logger
	now  func() time.Time
}

func New(pool *pgxpool.Pool, repo *repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		bus:  bus,
		log:  log,
		now:  time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams describes a new maintenance request submission.
type CreateParams struct {
	PropertyID  uuid.UUID
	TenantID    uuid.UUID
	Title       string
	Description string
	Category    domain.Category
	Priority    domain.Priority
	ActorID     uuid.UUID
	ActorRole   string
}

// Create persists a new request in status submitted, flags emergencies via
// triage, and publishes RequestCreated.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.MaintenanceRequest, error) {
	if p.PropertyID == uuid.Nil || p.TenantID == uuid.Nil {
		return domain.MaintenanceRequest{}, apperr.Validation("propertyId and tenantId are required").WithOp(opCreate)
	}
	if p.Title == "" {
		return domain.MaintenanceRequest{}, apperr.Validation("title is required").WithOp(opCreate)
	}
	if !domain.IsValidPriority(p.Priority) {
		return domain.MaintenanceRequest{}, apperr.Validation("unknown priority").WithOp(opCreate)
	}

	now := s.now()
	req := domain.MaintenanceRequest{
		ID:          uuid.New(),
		PropertyID:  p.PropertyID,
		TenantID:    p.TenantID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Priority:    p.Priority,
		Status:      domain.StatusSubmitted,
		IsEmergency: domain.TriageEmergency(p.Category, p.Description, p.Priority),
	}

	initial := domain.StatusChange{
		Status:    domain.StatusSubmitted,
		ActorID:   p.ActorID,
		ActorRole: p.ActorRole,
		Timestamp: now,
	}

	created, err := s.repo.Create(ctx, req, initial)
	if err != nil {
		return domain.MaintenanceRequest{}, err
	}

	s.bus.Publish(ctx, events.RequestCreated{
		BaseEvent:   events.NewBaseEvent(),
		RequestID:   created.ID,
		PropertyID:  created.PropertyID,
		TenantID:    created.TenantID,
		Category:    string(created.Category),
		Priority:    string(domain.EffectivePriority(created.Priority, created.IsEmergency)),
		IsEmergency: created.IsEmergency,
		Title:       created.Title,
	})

	return created, nil
}

// TransitionParams describes one status transition request.
type TransitionParams struct {
	RequestID uuid.UUID
	NewStatus domain.Status
	ActorID   uuid.UUID
	ActorRole string
	Notes     string
	// ContractorID is required when NewStatus is assigned.
	ContractorID *uuid.UUID
}

// Transition atomically appends a StatusChange and applies the computed field
// updates, retrying on optimistic-concurrency conflicts. Publishes
// RequestStatusChanged on success.
func (s *Service) Transition(ctx context.Context, p TransitionParams) (domain.MaintenanceRequest, error) {
	if !domain.IsValidStatus(p.NewStatus) {
		return domain.MaintenanceRequest{}, apperr.Validation("unknown status").WithOp(opTransition)
	}
	if p.NewStatus == domain.StatusAssigned && p.ContractorID == nil {
		return domain.MaintenanceRequest{}, apperr.Validation("contractorId is required for assignment").WithOp(opTransition)
	}

	var (
		from    domain.Status
		updated domain.MaintenanceRequest
	)

	err := db.WithRetry(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := s.repo.GetTx(ctx, tx, p.RequestID)
		if err != nil {
			return err
		}
		from = req.Status

		now := s.now()
		upd, change, counterDelta := planTransition(req, p, now)

		if err := s.repo.AppendHistoryTx(ctx, tx, req.ID, change); err != nil {
			return err
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, req.ID, req.Version, upd); err != nil {
			return err
		}
		if err := s.repo.AdjustPropertyCounterTx(ctx, tx, req.PropertyID, counterDelta); err != nil {
			return err
		}

		updated = req
		updated.Status = upd.Status
		updated.UpdatedAt = upd.UpdatedAt
		if upd.SetContractor {
			updated.ContractorID = upd.ContractorID
		}
		if upd.AssignedDate != nil {
			updated.AssignedDate = upd.AssignedDate
		}
		if upd.CompletedDate != nil {
			updated.CompletedDate = upd.CompletedDate
		}
		return nil
	})
	if err != nil {
		return domain.MaintenanceRequest{}, err
	}

	s.log.StatusTransition(updated.ID.String(), string(from), string(updated.Status), p.ActorRole)

	s.bus.Publish(ctx, events.RequestStatusChanged{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    updated.ID,
		PropertyID:   updated.PropertyID,
		TenantID:     updated.TenantID,
		ContractorID: updated.ContractorID,
		From:         string(from),
		To:           string(updated.Status),
		Priority:     string(domain.EffectivePriority(updated.Priority, updated.IsEmergency)),
		IsEmergency:  updated.IsEmergency,
		ActorID:      p.ActorID,
		ActorRole:    p.ActorRole,
	})

	return updated, nil
}

// planTransition computes the field updates, the audit entry, and the
// property active-counter delta for one transition. Pure; the transaction
// plumbing lives in Transition.
func planTransition(req domain.MaintenanceRequest, p TransitionParams, now time.Time) (repository.StatusUpdate, domain.StatusChange, int) {
	upd := repository.StatusUpdate{
		Status:    p.NewStatus,
		UpdatedAt: now,
	}

	switch p.NewStatus {
	case domain.StatusAssigned:
		upd.SetContractor = true
		upd.ContractorID = p.ContractorID
		assignedAt := now
		upd.AssignedDate = &assignedAt
	case domain.StatusCompleted:
		completedAt := now
		upd.CompletedDate = &completedAt
	case domain.StatusPending, domain.StatusSubmitted:
		// Reverting to an unassigned state clears the contractor.
		if req.ContractorID != nil {
			upd.SetContractor = true
			upd.ContractorID = nil
		}
	}

	change := domain.StatusChange{
		Status:    p.NewStatus,
		ActorID:   p.ActorID,
		ActorRole: p.ActorRole,
		Notes:     p.Notes,
		Timestamp: now,
	}

	return upd, change, activeDelta(req.Status, p.NewStatus)
}

func isActive(s domain.Status) bool {
	return s != domain.StatusCompleted && s != domain.StatusArchived
}

func activeDelta(from, to domain.Status) int {
	switch {
	case isActive(from) && !isActive(to):
		return -1
	case !isActive(from) && isActive(to):
		return 1
	default:
		return 0
	}
}

// ChangePriority updates only the priority, with no StatusChange appended.
// The bulk audit record (or the caller's own log) carries the change.
func (s *Service) ChangePriority(ctx context.Context, requestID uuid.UUID, priority domain.Priority) error {
	if !domain.IsValidPriority(priority) {
		return apperr.Validation("unknown priority").WithOp(opTransition)
	}
	return db.WithRetry(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := s.repo.GetTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		return s.repo.UpdatePriorityTx(ctx, tx, req.ID, req.Version, priority, s.now())
	})
}

// Get returns one request with its history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.MaintenanceRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, f repository.Filter) ([]domain.MaintenanceRequest, error) {
	return s.repo.List(ctx, f)
}

// Metrics returns the resolution aggregation for one property and window.
func (s *Service) Metrics(ctx context.Context, propertyID uuid.UUID, from, to time.Time) (repository.ResolutionMetrics, error) {
	if to.Before(from) {
		return repository.ResolutionMetrics{}, apperr.Validation("metrics window end precedes start")
	}
	return s.repo.ResolutionMetrics(ctx, propertyID, from, to)
}
