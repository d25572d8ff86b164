package bulk

import (
	"context"
	"errors"
	"testing"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/requests/domain"
	requestservice "propertyops_backend/internal/requests/service"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
)

type testMutator struct {
	transitions     []requestservice.TransitionParams
	priorityChanges []uuid.UUID
	failIDs         map[uuid.UUID]error
}

func (m *testMutator) Transition(_ context.Context, p requestservice.TransitionParams) (domain.MaintenanceRequest, error) {
	if err := m.failIDs[p.RequestID]; err != nil {
		return domain.MaintenanceRequest{}, err
	}
	m.transitions = append(m.transitions, p)
	return domain.MaintenanceRequest{ID: p.RequestID, Status: p.NewStatus}, nil
}

func (m *testMutator) ChangePriority(_ context.Context, id uuid.UUID, _ domain.Priority) error {
	if err := m.failIDs[id]; err != nil {
		return err
	}
	m.priorityChanges = append(m.priorityChanges, id)
	return nil
}

type testReader struct {
	known      map[uuid.UUID]bool
	chunkSizes []int
}

func (r *testReader) ListByIDs(_ context.Context, ids []uuid.UUID) ([]domain.MaintenanceRequest, error) {
	r.chunkSizes = append(r.chunkSizes, len(ids))
	var out []domain.MaintenanceRequest
	for _, id := range ids {
		if r.known[id] {
			out = append(out, domain.MaintenanceRequest{ID: id})
		}
	}
	return out, nil
}

type testAudit struct {
	inserted *Operation
}

func (a *testAudit) Insert(_ context.Context, op Operation) (Operation, error) {
	a.inserted = &op
	return op, nil
}

func newTestService(mutator *testMutator, reader *testReader, audit *testAudit) *Service {
	log := logger.New("test")
	return NewService(mutator, reader, audit, events.NewInMemoryBus(log), log)
}

func makeIDs(n int) ([]uuid.UUID, map[uuid.UUID]bool) {
	ids := make([]uuid.UUID, n)
	known := make(map[uuid.UUID]bool, n)
	for i := range ids {
		ids[i] = uuid.New()
		known[ids[i]] = true
	}
	return ids, known
}

func TestExecute_PartialFailureTotals(t *testing.T) {
	ids, known := makeIDs(5)
	bad := ids[2]
	mutator := &testMutator{failIDs: map[uuid.UUID]error{bad: errors.New("version conflict")}}
	reader := &testReader{known: known}
	audit := &testAudit{}

	op, err := newTestService(mutator, reader, audit).Execute(
		context.Background(), ids, OpMarkCompleted, Parameters{}, uuid.New())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := len(op.Results.Successful) + len(op.Results.Failed); got != len(ids) {
		t.Fatalf("totals must cover every target: got %d, want %d", got, len(ids))
	}
	if len(op.Results.Failed) != 1 || op.Results.Failed[0].RequestID != bad {
		t.Fatalf("expected exactly the bad id to fail, got %+v", op.Results.Failed)
	}
	if op.Status != "failed" {
		t.Fatalf("any failure marks the run failed, got %s", op.Status)
	}
	if audit.inserted == nil {
		t.Fatalf("expected an audit record")
	}
}

func TestExecute_MissingIDsFailUpFront(t *testing.T) {
	ids, known := makeIDs(3)
	missing := uuid.New()
	targets := append(append([]uuid.UUID{}, ids...), missing)
	mutator := &testMutator{}
	reader := &testReader{known: known}

	op, err := newTestService(mutator, reader, &testAudit{}).Execute(
		context.Background(), targets, OpArchive, Parameters{}, uuid.New())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(op.Results.Failed) != 1 || op.Results.Failed[0].RequestID != missing {
		t.Fatalf("expected only the missing id to fail, got %+v", op.Results.Failed)
	}
	if len(mutator.transitions) != 3 {
		t.Fatalf("missing ids must not consume mutation attempts: got %d transitions", len(mutator.transitions))
	}
}

func TestExecute_PrefetchChunking(t *testing.T) {
	ids, known := makeIDs(65)
	reader := &testReader{known: known}

	_, err := newTestService(&testMutator{}, reader, &testAudit{}).Execute(
		context.Background(), ids, OpChangePriority, Parameters{Priority: domain.PriorityHigh}, uuid.New())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []int{30, 30, 5}
	if len(reader.chunkSizes) != len(want) {
		t.Fatalf("expected %d lookup chunks, got %v", len(want), reader.chunkSizes)
	}
	for i, n := range want {
		if reader.chunkSizes[i] != n {
			t.Fatalf("chunk %d: expected %d ids, got %d", i, n, reader.chunkSizes[i])
		}
	}
}

func TestExecute_ValidatesParameters(t *testing.T) {
	ids, _ := makeIDs(1)
	svc := newTestService(&testMutator{}, &testReader{}, &testAudit{})

	if _, err := svc.Execute(context.Background(), ids, OpAssignContractor, Parameters{}, uuid.New()); err == nil {
		t.Fatalf("assign without contractorId should fail validation")
	}
	if _, err := svc.Execute(context.Background(), ids, OpChangeStatus, Parameters{Status: "nope"}, uuid.New()); err == nil {
		t.Fatalf("unknown status should fail validation")
	}
	if _, err := svc.Execute(context.Background(), nil, OpArchive, Parameters{}, uuid.New()); err == nil {
		t.Fatalf("empty target list should fail validation")
	}
}

func TestChunkIDs(t *testing.T) {
	ids, _ := makeIDs(7)
	chunks := chunkIDs(ids, 3)
	if len(chunks) != 3 || len(chunks[0]) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunk shape: %d chunks", len(chunks))
	}
	if chunkIDs(nil, 3) != nil {
		t.Fatalf("empty input should produce no chunks")
	}
}
