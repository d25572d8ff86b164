// Package service implements the contractor assignment coordinator. It keeps
// the invariant that an assigned request id lives in exactly one contractor
// bucket by moving membership inside the same transaction that touches the
// request document.
package service

import (
	"context"
	"time"

	"propertyops_backend/internal/contractors/repository"
	"propertyops_backend/internal/events"
	"propertyops_backend/internal/requests/domain"
	requestrepo "propertyops_backend/internal/requests/repository"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/db"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opReconcile = "contractors.service.reconcile_assignment"
	opDecline   = "contractors.service.decline_assignment"
)

// ContractStore is the bucket persistence surface. Satisfied by
// *repository.Repository.
type ContractStore interface {
	ExistsTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) error
	MembershipTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*repository.Membership, error)
	PlaceTx(ctx context.Context, tx pgx.Tx, contractorID, requestID uuid.UUID, bucket domain.Bucket) (bool, error)
	RemoveTx(ctx context.Context, tx pgx.Tx, contractorID, requestID uuid.UUID) error
	Contracts(ctx context.Context, contractorID uuid.UUID) (repository.Contracts, error)
}

// RequestStore is the slice of the request repository the coordinator needs.
type RequestStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.MaintenanceRequest, error)
	AppendHistoryTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, change domain.StatusChange) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectedVersion int64, upd requestrepo.StatusUpdate) error
}

type Service struct {
	repo     ContractStore
	requests RequestStore
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
	runTx    func(ctx context.Context, fn func(tx pgx.Tx) error) error
}

func New(pool *pgxpool.Pool, repo *repository.Repository, requests *requestrepo.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		requests: requests,
		bus:      bus,
		log:      log,
		now:      time.Now,
		runTx: func(ctx context.Context, fn func(tx pgx.Tx) error) error {
			return db.WithRetry(ctx, pool, fn)
		},
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ReconcileAssignment brings the bucket structure in line with the request
// row. The contractor and target bucket are derived from the row re-read
// inside the transaction, never from whatever triggered the call, so stale
// or reordered triggers converge on the request's current state instead of
// replaying it.
func (s *Service) ReconcileAssignment(ctx context.Context, requestID uuid.UUID) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.GetTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		membership, err := s.repo.MembershipTx(ctx, tx, requestID)
		if err != nil {
			return err
		}

		bucket, ok := domain.BucketForStatus(req.Status)
		if !ok || req.ContractorID == nil {
			// Unassigned state: drop any lingering membership.
			if membership == nil {
				return nil
			}
			return s.repo.RemoveTx(ctx, tx, membership.ContractorID, requestID)
		}
		contractorID := *req.ContractorID

		if err := s.repo.ExistsTx(ctx, tx, contractorID); err != nil {
			return err
		}
		if membership != nil && membership.ContractorID != contractorID {
			// Reassigned since the membership row was written; the old row
			// would block the insert below.
			if err := s.repo.RemoveTx(ctx, tx, membership.ContractorID, requestID); err != nil {
				return err
			}
		}
		placed, err := s.repo.PlaceTx(ctx, tx, contractorID, requestID, bucket)
		if err != nil {
			return err
		}
		if !placed {
			// A competing writer took the row between the read and the
			// write. The retry re-reads and converges.
			return apperr.Conflict("bucket membership changed concurrently").WithOp(opReconcile)
		}
		return nil
	})
}

// DeclineAssignment removes the request from the contractor's buckets, clears
// the contractor on the request, reverts its status to pending, and appends a
// StatusChange carrying the decline reason — all in one transaction.
func (s *Service) DeclineAssignment(ctx context.Context, requestID, contractorID uuid.UUID, reason string) error {
	if reason == "" {
		return apperr.Validation("decline reason is required").WithOp(opDecline)
	}

	var propertyID uuid.UUID
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.GetTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.ContractorID == nil || *req.ContractorID != contractorID {
			return db.NoRetry{Err: apperr.Conflict("request is not assigned to this contractor").WithOp(opDecline)}
		}
		propertyID = req.PropertyID

		if err := s.repo.RemoveTx(ctx, tx, contractorID, requestID); err != nil {
			return err
		}

		now := s.now()
		change := domain.StatusChange{
			Status:    domain.StatusPending,
			ActorID:   contractorID,
			ActorRole: "contractor",
			Notes:     "assignment declined: " + reason,
			Timestamp: now,
		}
		if err := s.requests.AppendHistoryTx(ctx, tx, requestID, change); err != nil {
			return err
		}

		return s.requests.UpdateStatusTx(ctx, tx, requestID, req.Version, requestrepo.StatusUpdate{
			Status:        domain.StatusPending,
			SetContractor: true,
			ContractorID:  nil,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.AssignmentDeclined{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    requestID,
		PropertyID:   propertyID,
		ContractorID: contractorID,
		Reason:       reason,
	})
	return nil
}

// Contracts returns the contractor's bucket structure.
func (s *Service) Contracts(ctx context.Context, contractorID uuid.UUID) (repository.Contracts, error) {
	return s.repo.Contracts(ctx, contractorID)
}

// SyncFromStatus handles one RequestStatusChanged event. The event is only
// a trigger; the reconcile reads the request's current state itself.
func (s *Service) SyncFromStatus(ctx context.Context, e events.RequestStatusChanged) error {
	return s.ReconcileAssignment(ctx, e.RequestID)
}
