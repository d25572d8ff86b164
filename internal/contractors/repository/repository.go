// Package repository persists contractor profiles and their contract buckets.
// Bucket membership is backed by one row per request id with a primary key on
// the request id, so a request can never sit in two buckets or with two
// contractors at once.
package repository

import (
	"context"
	"errors"

	"propertyops_backend/internal/requests/domain"
	"propertyops_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opExists     = "contractors.repository.exists"
	opMembership = "contractors.repository.membership"
	opPlace      = "contractors.repository.place"
	opRemove     = "contractors.repository.remove"
	opContracts  = "contractors.repository.contracts"
)

// Contracts are the three disjoint request-id buckets of one contractor.
type Contracts struct {
	Pending  []uuid.UUID `json:"pending"`
	Ongoing  []uuid.UUID `json:"ongoing"`
	Finished []uuid.UUID `json:"finished"`
}

// Membership locates a request id inside the bucket structure.
type Membership struct {
	ContractorID uuid.UUID
	Bucket       domain.Bucket
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ExistsTx verifies the contractor profile inside an existing transaction.
func (r *Repository) ExistsTx(ctx context.Context, tx pgx.Tx, contractorID uuid.UUID) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM contractor_profiles WHERE id = $1`, contractorID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("contractor not found").WithOp(opExists)
		}
		return apperr.Wrap(apperr.KindInternal, "check contractor", err).WithOp(opExists)
	}
	return nil
}

// MembershipTx reports which contractor and bucket currently hold the request
// id, if any.
func (r *Repository) MembershipTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*Membership, error) {
	var m Membership
	err := tx.QueryRow(ctx, `
		SELECT contractor_id, bucket FROM contractor_contracts WHERE request_id = $1
	`, requestID).Scan(&m.ContractorID, &m.Bucket)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindInternal, "read bucket membership", err).WithOp(opMembership)
	}
	return &m, nil
}

// PlaceTx inserts or moves the request id into the contractor's bucket. The
// primary key on request_id makes the insert race safe: exactly one writer
// wins, the loser observes zero affected rows.
func (r *Repository) PlaceTx(ctx context.Context, tx pgx.Tx, contractorID, requestID uuid.UUID, bucket domain.Bucket) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO contractor_contracts (request_id, contractor_id, bucket)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO UPDATE
			SET bucket = EXCLUDED.bucket, updated_at = now()
			WHERE contractor_contracts.contractor_id = EXCLUDED.contractor_id
	`, requestID, contractorID, bucket)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "place contract", err).WithOp(opPlace)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveTx deletes the request id from the contractor's buckets. Removing an
// absent id is a no-op.
func (r *Repository) RemoveTx(ctx context.Context, tx pgx.Tx, contractorID, requestID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM contractor_contracts WHERE request_id = $1 AND contractor_id = $2
	`, requestID, contractorID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "remove contract", err).WithOp(opRemove)
	}
	return nil
}

// Contracts loads the full bucket structure for one contractor.
func (r *Repository) Contracts(ctx context.Context, contractorID uuid.UUID) (Contracts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, bucket FROM contractor_contracts
		WHERE contractor_id = $1
		ORDER BY updated_at ASC
	`, contractorID)
	if err != nil {
		return Contracts{}, apperr.Wrap(apperr.KindInternal, "list contracts", err).WithOp(opContracts)
	}
	defer rows.Close()

	var c Contracts
	for rows.Next() {
		var id uuid.UUID
		var bucket domain.Bucket
		if err := rows.Scan(&id, &bucket); err != nil {
			return Contracts{}, apperr.Wrap(apperr.KindInternal, "scan contract", err).WithOp(opContracts)
		}
		switch bucket {
		case domain.BucketPending:
			c.Pending = append(c.Pending, id)
		case domain.BucketOngoing:
			c.Ongoing = append(c.Ongoing, id)
		case domain.BucketFinished:
			c.Finished = append(c.Finished, id)
		}
	}
	if err := rows.Err(); err != nil {
		return Contracts{}, apperr.Wrap(apperr.KindInternal, "iterate contracts", err).WithOp(opContracts)
	}
	return c, nil
}
