package bulk

import (
	"context"
	"encoding/json"
	"time"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/requests/domain"
	requestservice "propertyops_backend/internal/requests/service"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
)

// OperationType enumerates the supported bulk mutations.
type OperationType string

const (
	OpAssignContractor OperationType = "assign_contractor"
	OpChangePriority   OperationType = "change_priority"
	OpChangeStatus     OperationType = "change_status"
	OpArchive          OperationType = "archive"
	OpMarkCompleted    OperationType = "mark_completed"
)

const (
	// batchWriteLimit is the backend's batch-write ceiling; items are
	// processed in groups no larger than this.
	batchWriteLimit = 500
	// idQueryChunk bounds id-set lookups so IN-queries stay within the
	// provider limit.
	idQueryChunk = 30
)

const opExecute = "bulk.service.execute"

// Parameters carries the operation-specific inputs.
type Parameters struct {
	ContractorID *uuid.UUID      `json:"contractorId,omitempty"`
	Priority     domain.Priority `json:"priority,omitempty"`
	Status       domain.Status   `json:"status,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

// RequestMutator is the per-item mutation surface, implemented by the
// requests service.
type RequestMutator interface {
	Transition(ctx context.Context, p requestservice.TransitionParams) (domain.MaintenanceRequest, error)
	ChangePriority(ctx context.Context, requestID uuid.UUID, priority domain.Priority) error
}

// RequestReader prefetches targets for existence checks.
type RequestReader interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.MaintenanceRequest, error)
}

// AuditWriter persists the immutable run summary.
type AuditWriter interface {
	Insert(ctx context.Context, op Operation) (Operation, error)
}

type Service struct {
	mutator RequestMutator
	reader  RequestReader
	audit   AuditWriter
	bus     events.Bus
	log     *logger.Logger
	now     func() time.Time
}

func NewService(mutator RequestMutator, reader RequestReader, audit AuditWriter, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		mutator: mutator,
		reader:  reader,
		audit:   audit,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Execute applies the operation across all target ids with per-item failure
// isolation: one item's failure never aborts the others, and the returned
// totals always satisfy len(successful)+len(failed) == len(requestIDs).
// A single immutable audit record summarizes the run.
func (s *Service) Execute(ctx context.Context, requestIDs []uuid.UUID, opType OperationType, params Parameters, initiatedBy uuid.UUID) (Operation, error) {
	if len(requestIDs) == 0 {
		return Operation{}, apperr.Validation("at least one request id is required").WithOp(opExecute)
	}
	if err := validate(opType, params); err != nil {
		return Operation{}, err
	}

	results := Results{Successful: []uuid.UUID{}, Failed: []FailedItem{}}

	// Existence prefetch in bounded id-set chunks. Missing ids fail up front
	// without consuming a mutation attempt.
	existing := make(map[uuid.UUID]bool, len(requestIDs))
	for _, chunk := range chunkIDs(requestIDs, idQueryChunk) {
		found, err := s.reader.ListByIDs(ctx, chunk)
		if err != nil {
			return Operation{}, err
		}
		for _, req := range found {
			existing[req.ID] = true
		}
	}

	var present []uuid.UUID
	for _, id := range requestIDs {
		if existing[id] {
			present = append(present, id)
		} else {
			results.Failed = append(results.Failed, FailedItem{RequestID: id, Error: "maintenance request not found"})
		}
	}

	for _, batch := range chunkIDs(present, batchWriteLimit) {
		for _, id := range batch {
			if err := s.applyOne(ctx, id, opType, params, initiatedBy); err != nil {
				results.Failed = append(results.Failed, FailedItem{RequestID: id, Error: err.Error()})
				continue
			}
			results.Successful = append(results.Successful, id)
		}
	}

	status := "completed"
	if len(results.Failed) > 0 {
		status = "failed"
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Operation{}, apperr.Wrap(apperr.KindInternal, "marshal bulk parameters", err).WithOp(opExecute)
	}

	record, err := s.audit.Insert(ctx, Operation{
		ID:               uuid.New(),
		OperationType:    string(opType),
		Parameters:       paramsJSON,
		InitiatedBy:      initiatedBy,
		TargetRequestIDs: requestIDs,
		Results:          results,
		Status:           status,
	})
	if err != nil {
		return Operation{}, err
	}

	s.bus.Publish(ctx, events.BulkOperationCompleted{
		BaseEvent:     events.NewBaseEvent(),
		OperationID:   record.ID,
		OperationType: record.OperationType,
		InitiatedBy:   initiatedBy,
		Succeeded:     len(results.Successful),
		Failed:        len(results.Failed),
	})

	return record, nil
}

func (s *Service) applyOne(ctx context.Context, id uuid.UUID, opType OperationType, params Parameters, initiatedBy uuid.UUID) error {
	switch opType {
	case OpAssignContractor:
		_, err := s.mutator.Transition(ctx, requestservice.TransitionParams{
			RequestID:    id,
			NewStatus:    domain.StatusAssigned,
			ActorID:      initiatedBy,
			ActorRole:    "landlord",
			Notes:        params.Notes,
			ContractorID: params.ContractorID,
		})
		return err
	case OpChangeStatus:
		_, err := s.mutator.Transition(ctx, requestservice.TransitionParams{
			RequestID: id,
			NewStatus: params.Status,
			ActorID:   initiatedBy,
			ActorRole: "landlord",
			Notes:     params.Notes,
		})
		return err
	case OpArchive:
		_, err := s.mutator.Transition(ctx, requestservice.TransitionParams{
			RequestID: id,
			NewStatus: domain.StatusArchived,
			ActorID:   initiatedBy,
			ActorRole: "landlord",
			Notes:     params.Notes,
		})
		return err
	case OpMarkCompleted:
		_, err := s.mutator.Transition(ctx, requestservice.TransitionParams{
			RequestID: id,
			NewStatus: domain.StatusCompleted,
			ActorID:   initiatedBy,
			ActorRole: "landlord",
			Notes:     params.Notes,
		})
		return err
	case OpChangePriority:
		return s.mutator.ChangePriority(ctx, id, params.Priority)
	default:
		return apperr.Validation("unknown bulk operation type")
	}
}

func validate(opType OperationType, params Parameters) error {
	switch opType {
	case OpAssignContractor:
		if params.ContractorID == nil {
			return apperr.Validation("contractorId is required for assign_contractor").WithOp(opExecute)
		}
	case OpChangePriority:
		if !domain.IsValidPriority(params.Priority) {
			return apperr.Validation("unknown priority").WithOp(opExecute)
		}
	case OpChangeStatus:
		if !domain.IsValidStatus(params.Status) {
			return apperr.Validation("unknown status").WithOp(opExecute)
		}
	case OpArchive, OpMarkCompleted:
		// No parameters.
	default:
		return apperr.Validation("unknown bulk operation type").WithOp(opExecute)
	}
	return nil
}

// chunkIDs splits ids into chunks of at most size.
func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size < 1 || len(ids) == 0 {
		return nil
	}
	var out [][]uuid.UUID
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
