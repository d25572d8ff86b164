package service

import (
	"testing"
	"time"

	"propertyops_backend/internal/requests/domain"

	"github.com/google/uuid"
)

func TestPlanTransition_Assignment(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	contractorID := uuid.New()
	req := domain.MaintenanceRequest{
		ID:     uuid.New(),
		Status: domain.StatusPending,
	}

	upd, change, delta := planTransition(req, TransitionParams{
		RequestID:    req.ID,
		NewStatus:    domain.StatusAssigned,
		ContractorID: &contractorID,
		ActorRole:    "manager",
	}, now)

	if upd.Status != domain.StatusAssigned {
		t.Fatalf("expected status assigned, got %s", upd.Status)
	}
	if !upd.SetContractor || upd.ContractorID == nil || *upd.ContractorID != contractorID {
		t.Fatalf("expected contractor to be set")
	}
	if upd.AssignedDate == nil || !upd.AssignedDate.Equal(now) {
		t.Fatalf("expected assigned date %v, got %v", now, upd.AssignedDate)
	}
	if change.Status != domain.StatusAssigned || change.ActorRole != "manager" {
		t.Fatalf("unexpected audit entry: %+v", change)
	}
	if delta != 0 {
		t.Fatalf("pending to assigned should not change the active counter, got %d", delta)
	}
}

func TestPlanTransition_CompletionSetsDateAndDecrementsCounter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := domain.MaintenanceRequest{ID: uuid.New(), Status: domain.StatusInProgress}

	upd, _, delta := planTransition(req, TransitionParams{NewStatus: domain.StatusCompleted}, now)

	if upd.CompletedDate == nil || !upd.CompletedDate.Equal(now) {
		t.Fatalf("expected completed date %v, got %v", now, upd.CompletedDate)
	}
	if delta != -1 {
		t.Fatalf("expected active counter delta -1, got %d", delta)
	}
}

func TestPlanTransition_ReopenIncrementsCounter(t *testing.T) {
	now := time.Now()
	req := domain.MaintenanceRequest{ID: uuid.New(), Status: domain.StatusCompleted}

	_, _, delta := planTransition(req, TransitionParams{NewStatus: domain.StatusPending}, now)

	if delta != 1 {
		t.Fatalf("expected active counter delta +1 when reopening, got %d", delta)
	}
}

func TestPlanTransition_RevertClearsContractor(t *testing.T) {
	contractorID := uuid.New()
	req := domain.MaintenanceRequest{
		ID:           uuid.New(),
		Status:       domain.StatusAssigned,
		ContractorID: &contractorID,
	}

	upd, _, _ := planTransition(req, TransitionParams{NewStatus: domain.StatusPending}, time.Now())

	if !upd.SetContractor || upd.ContractorID != nil {
		t.Fatalf("expected contractor cleared on revert, got set=%v id=%v", upd.SetContractor, upd.ContractorID)
	}
}

func TestPlanTransition_LateralMoveKeepsContractor(t *testing.T) {
	contractorID := uuid.New()
	req := domain.MaintenanceRequest{
		ID:           uuid.New(),
		Status:       domain.StatusAssigned,
		ContractorID: &contractorID,
	}

	upd, _, delta := planTransition(req, TransitionParams{NewStatus: domain.StatusInProgress}, time.Now())

	if upd.SetContractor {
		t.Fatalf("in-progress should not touch the contractor column")
	}
	if delta != 0 {
		t.Fatalf("assigned to in-progress should not change the active counter, got %d", delta)
	}
}

func TestActiveDelta_ArchivedStaysInactive(t *testing.T) {
	if got := activeDelta(domain.StatusCompleted, domain.StatusArchived); got != 0 {
		t.Fatalf("completed to archived should be 0, got %d", got)
	}
}
