// Package bulk implements the bulk operation executor: one operation applied
// across many request ids with per-item partial-failure isolation, summarized
// by an immutable audit record.
package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"propertyops_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opInsert = "bulk.repository.insert"
	opGet    = "bulk.repository.get"
)

// FailedItem records one per-item failure inside a bulk run.
type FailedItem struct {
	RequestID uuid.UUID `json:"requestId"`
	Error     string    `json:"error"`
}

// Results is the structured outcome of a bulk run. The totals law holds:
// len(Successful) + len(Failed) == number of target ids.
type Results struct {
	Successful []uuid.UUID  `json:"successful"`
	Failed     []FailedItem `json:"failed"`
}

// Operation is the immutable audit record of one bulk run.
type Operation struct {
	ID               uuid.UUID       `json:"id"`
	OperationType    string          `json:"operationType"`
	Parameters       json.RawMessage `json:"parameters,omitempty"`
	InitiatedBy      uuid.UUID       `json:"initiatedBy"`
	TargetRequestIDs []uuid.UUID     `json:"targetRequestIds"`
	Results          Results         `json:"results"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the audit record. There is no update path; the record is
// created once, immutable afterward.
func (r *Repository) Insert(ctx context.Context, op Operation) (Operation, error) {
	resultsJSON, err := json.Marshal(op.Results)
	if err != nil {
		return Operation{}, apperr.Wrap(apperr.KindInternal, "marshal bulk results", err).WithOp(opInsert)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO bulk_operations
			(id, operation_type, parameters, initiated_by, target_request_ids, results, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, op.ID, op.OperationType, op.Parameters, op.InitiatedBy, op.TargetRequestIDs, resultsJSON, op.Status).Scan(&op.CreatedAt)
	if err != nil {
		return Operation{}, apperr.Wrap(apperr.KindInternal, "insert bulk operation", err).WithOp(opInsert)
	}
	return op, nil
}

// GetByID loads one audit record.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Operation, error) {
	var op Operation
	var resultsJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, operation_type, parameters, initiated_by, target_request_ids, results, status, created_at
		FROM bulk_operations WHERE id = $1
	`, id).Scan(&op.ID, &op.OperationType, &op.Parameters, &op.InitiatedBy, &op.TargetRequestIDs, &resultsJSON, &op.Status, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, apperr.NotFound("bulk operation not found").WithOp(opGet)
		}
		return Operation{}, apperr.Wrap(apperr.KindInternal, "get bulk operation", err).WithOp(opGet)
	}
	if err := json.Unmarshal(resultsJSON, &op.Results); err != nil {
		return Operation{}, apperr.Wrap(apperr.KindInternal, "unmarshal bulk results", err).WithOp(opGet)
	}
	return op, nil
}
