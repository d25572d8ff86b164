package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"propertyops_backend/internal/contractors/repository"
	"propertyops_backend/internal/events"
	"propertyops_backend/internal/requests/domain"
	requestrepo "propertyops_backend/internal/requests/repository"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// testContracts mimics the bucket table: one row per request id, so a
// request can only ever sit with one contractor in one bucket.
type testContracts struct {
	contractors map[uuid.UUID]bool
	membership  map[uuid.UUID]repository.Membership
}

func newTestContracts(contractorIDs ...uuid.UUID) *testContracts {
	c := &testContracts{
		contractors: make(map[uuid.UUID]bool),
		membership:  make(map[uuid.UUID]repository.Membership),
	}
	for _, id := range contractorIDs {
		c.contractors[id] = true
	}
	return c
}

func (c *testContracts) ExistsTx(_ context.Context, _ pgx.Tx, contractorID uuid.UUID) error {
	if !c.contractors[contractorID] {
		return apperr.NotFound("contractor not found")
	}
	return nil
}

func (c *testContracts) MembershipTx(_ context.Context, _ pgx.Tx, requestID uuid.UUID) (*repository.Membership, error) {
	if m, ok := c.membership[requestID]; ok {
		return &m, nil
	}
	return nil, nil
}

func (c *testContracts) PlaceTx(_ context.Context, _ pgx.Tx, contractorID, requestID uuid.UUID, bucket domain.Bucket) (bool, error) {
	if m, ok := c.membership[requestID]; ok && m.ContractorID != contractorID {
		return false, nil
	}
	c.membership[requestID] = repository.Membership{ContractorID: contractorID, Bucket: bucket}
	return true, nil
}

func (c *testContracts) RemoveTx(_ context.Context, _ pgx.Tx, contractorID, requestID uuid.UUID) error {
	if m, ok := c.membership[requestID]; ok && m.ContractorID == contractorID {
		delete(c.membership, requestID)
	}
	return nil
}

func (c *testContracts) Contracts(_ context.Context, contractorID uuid.UUID) (repository.Contracts, error) {
	var out repository.Contracts
	for id, m := range c.membership {
		if m.ContractorID != contractorID {
			continue
		}
		switch m.Bucket {
		case domain.BucketPending:
			out.Pending = append(out.Pending, id)
		case domain.BucketOngoing:
			out.Ongoing = append(out.Ongoing, id)
		case domain.BucketFinished:
			out.Finished = append(out.Finished, id)
		}
	}
	return out, nil
}

type testRequests struct {
	reqs    map[uuid.UUID]domain.MaintenanceRequest
	history []domain.StatusChange
	updates []requestrepo.StatusUpdate
}

func (r *testRequests) GetTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (domain.MaintenanceRequest, error) {
	req, ok := r.reqs[id]
	if !ok {
		return domain.MaintenanceRequest{}, apperr.NotFound("maintenance request not found")
	}
	return req, nil
}

func (r *testRequests) AppendHistoryTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, change domain.StatusChange) error {
	r.history = append(r.history, change)
	return nil
}

func (r *testRequests) UpdateStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, _ int64, upd requestrepo.StatusUpdate) error {
	r.updates = append(r.updates, upd)
	req := r.reqs[id]
	req.Status = upd.Status
	if upd.SetContractor {
		req.ContractorID = upd.ContractorID
	}
	r.reqs[id] = req
	return nil
}

func newTestService(contracts *testContracts, requests *testRequests, bus events.Bus) *Service {
	log := logger.New("test")
	if bus == nil {
		bus = events.NewInMemoryBus(log)
	}
	return &Service{
		repo:     contracts,
		requests: requests,
		bus:      bus,
		log:      log,
		now:      time.Now,
		runTx: func(ctx context.Context, fn func(tx pgx.Tx) error) error {
			return fn(nil)
		},
	}
}

func seededRequest(status domain.Status, contractorID *uuid.UUID) (uuid.UUID, *testRequests) {
	id := uuid.New()
	return id, &testRequests{reqs: map[uuid.UUID]domain.MaintenanceRequest{
		id: {
			ID:           id,
			PropertyID:   uuid.New(),
			Status:       status,
			ContractorID: contractorID,
			Version:      1,
		},
	}}
}

func TestReconcile_DerivesBucketFromCurrentStatus(t *testing.T) {
	contractorID := uuid.New()
	requestID, requests := seededRequest(domain.StatusInProgress, &contractorID)
	contracts := newTestContracts(contractorID)
	svc := newTestService(contracts, requests, nil)

	// The trigger claims an older transition; the row says in-progress.
	err := svc.SyncFromStatus(context.Background(), events.RequestStatusChanged{
		RequestID:    requestID,
		ContractorID: &contractorID,
		From:         "pending",
		To:           "assigned",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	m, ok := contracts.membership[requestID]
	if !ok || m.Bucket != domain.BucketOngoing {
		t.Fatalf("bucket must follow the row's status, got %+v", m)
	}
}

func TestReconcile_ReorderedTriggersConverge(t *testing.T) {
	contractorID := uuid.New()
	requestID, requests := seededRequest(domain.StatusInProgress, &contractorID)
	contracts := newTestContracts(contractorID)
	svc := newTestService(contracts, requests, nil)

	// The in-progress trigger arrives before the assigned one. Both
	// reconcile against the same row, so the final bucket is the row's.
	newer := events.RequestStatusChanged{RequestID: requestID, ContractorID: &contractorID, To: "in-progress"}
	older := events.RequestStatusChanged{RequestID: requestID, ContractorID: &contractorID, To: "assigned"}
	if err := svc.SyncFromStatus(context.Background(), newer); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if err := svc.SyncFromStatus(context.Background(), older); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	m := contracts.membership[requestID]
	if m.Bucket != domain.BucketOngoing {
		t.Fatalf("stale trigger moved the bucket backwards: %+v", m)
	}
	if len(contracts.membership) != 1 {
		t.Fatalf("request must hold exactly one membership row, got %d", len(contracts.membership))
	}
}

func TestReconcile_UnassignedStatusRemovesMembership(t *testing.T) {
	contractorID := uuid.New()
	requestID, requests := seededRequest(domain.StatusPending, nil)
	contracts := newTestContracts(contractorID)
	contracts.membership[requestID] = repository.Membership{ContractorID: contractorID, Bucket: domain.BucketPending}
	svc := newTestService(contracts, requests, nil)

	if err := svc.ReconcileAssignment(context.Background(), requestID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, ok := contracts.membership[requestID]; ok {
		t.Fatalf("membership should be dropped for an unassigned request")
	}
}

func TestReconcile_ReassignmentMovesSingleRow(t *testing.T) {
	oldContractor := uuid.New()
	newContractor := uuid.New()
	requestID, requests := seededRequest(domain.StatusAssigned, &newContractor)
	contracts := newTestContracts(oldContractor, newContractor)
	contracts.membership[requestID] = repository.Membership{ContractorID: oldContractor, Bucket: domain.BucketOngoing}
	svc := newTestService(contracts, requests, nil)

	if err := svc.ReconcileAssignment(context.Background(), requestID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(contracts.membership) != 1 {
		t.Fatalf("request must hold exactly one membership row, got %d", len(contracts.membership))
	}
	m := contracts.membership[requestID]
	if m.ContractorID != newContractor || m.Bucket != domain.BucketPending {
		t.Fatalf("membership should follow the row's contractor and status, got %+v", m)
	}
}

func TestDeclineAssignment_RequiresReason(t *testing.T) {
	svc := newTestService(newTestContracts(), &testRequests{}, nil)
	err := svc.DeclineAssignment(context.Background(), uuid.New(), uuid.New(), "")
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeclineAssignment_WrongContractorConflicts(t *testing.T) {
	assigned := uuid.New()
	requestID, requests := seededRequest(domain.StatusAssigned, &assigned)
	svc := newTestService(newTestContracts(assigned), requests, nil)

	err := svc.DeclineAssignment(context.Background(), requestID, uuid.New(), "double booked")
	if apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(requests.updates) != 0 {
		t.Fatalf("request must not be touched on a conflicting decline")
	}
}

func TestDeclineAssignment_RevertsAndPublishes(t *testing.T) {
	contractorID := uuid.New()
	requestID, requests := seededRequest(domain.StatusAssigned, &contractorID)
	contracts := newTestContracts(contractorID)
	contracts.membership[requestID] = repository.Membership{ContractorID: contractorID, Bucket: domain.BucketPending}

	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	var (
		mu       sync.Mutex
		declined []events.AssignmentDeclined
	)
	bus.Subscribe(events.AssignmentDeclined{}.EventName(), events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		mu.Lock()
		declined = append(declined, ev.(events.AssignmentDeclined))
		mu.Unlock()
		return nil
	}))
	svc := newTestService(contracts, requests, bus)

	if err := svc.DeclineAssignment(context.Background(), requestID, contractorID, "no parts available"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	bus.Wait()

	if _, ok := contracts.membership[requestID]; ok {
		t.Fatalf("membership should be removed on decline")
	}
	req := requests.reqs[requestID]
	if req.Status != domain.StatusPending || req.ContractorID != nil {
		t.Fatalf("request should revert to unassigned pending, got %+v", req)
	}
	if len(requests.history) != 1 || requests.history[0].Notes != "assignment declined: no parts available" {
		t.Fatalf("history should carry the decline reason, got %+v", requests.history)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(declined) != 1 || declined[0].Reason != "no parts available" {
		t.Fatalf("expected one declined event with the reason, got %+v", declined)
	}
}
