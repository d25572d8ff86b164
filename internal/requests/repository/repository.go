// Package repository persists maintenance requests and their append-only
// status history.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propertyops_backend/internal/requests/domain"
	"propertyops_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate  = "requests.repository.create"
	opGet     = "requests.repository.get"
	opList    = "requests.repository.list"
	opUpdate  = "requests.repository.update_status"
	opHistory = "requests.repository.append_history"
)

// Filter narrows List results. Zero values are ignored.
type Filter struct {
	PropertyID   uuid.UUID
	TenantID     uuid.UUID
	ContractorID uuid.UUID
	Status       domain.Status
	Priority     domain.Priority
	Limit        int
	Offset       int
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const requestColumns = `id, property_id, tenant_id, contractor_id, title, description,
	category, priority, status, is_emergency, assigned_date, completed_date,
	created_at, updated_at, version`

func scanRequest(row pgx.Row) (domain.MaintenanceRequest, error) {
	var r domain.MaintenanceRequest
	err := row.Scan(
		&r.ID, &r.PropertyID, &r.TenantID, &r.ContractorID, &r.Title, &r.Description,
		&r.Category, &r.Priority, &r.Status, &r.IsEmergency, &r.AssignedDate, &r.CompletedDate,
		&r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	return r, err
}

// Create inserts a new request together with its initial history entry in a
// single transaction and bumps the property's active-request counter.
func (r *Repository) Create(ctx context.Context, req domain.MaintenanceRequest, initial domain.StatusChange) (domain.MaintenanceRequest, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "begin create request", err).WithOp(opCreate)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanRequest(tx.QueryRow(ctx, `
		INSERT INTO maintenance_requests
			(id, property_id, tenant_id, title, description, category, priority, status, is_emergency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+requestColumns,
		req.ID, req.PropertyID, req.TenantID, req.Title, req.Description,
		req.Category, req.Priority, req.Status, req.IsEmergency,
	))
	if err != nil {
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "insert request", err).WithOp(opCreate)
	}

	if err := r.AppendHistoryTx(ctx, tx, created.ID, initial); err != nil {
		return domain.MaintenanceRequest{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE properties SET active_requests = active_requests + 1 WHERE id = $1
	`, req.PropertyID); err != nil {
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "bump property counter", err).WithOp(opCreate)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "commit create request", err).WithOp(opCreate)
	}

	created.StatusHistory = []domain.StatusChange{initial}
	return created, nil
}

// GetByID loads a request with its full status history.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.MaintenanceRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM maintenance_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MaintenanceRequest{}, apperr.NotFound("maintenance request not found").WithOp(opGet)
		}
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "get request", err).WithOp(opGet)
	}

	history, err := r.History(ctx, id)
	if err != nil {
		return domain.MaintenanceRequest{}, err
	}
	req.StatusHistory = history
	return req, nil
}

// GetTx loads a request (without history) inside an existing transaction.
func (r *Repository) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.MaintenanceRequest, error) {
	req, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM maintenance_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MaintenanceRequest{}, apperr.NotFound("maintenance request not found").WithOp(opGet)
		}
		return domain.MaintenanceRequest{}, apperr.Wrap(apperr.KindInternal, "get request", err).WithOp(opGet)
	}
	return req, nil
}

// History returns the append-only status history, oldest first.
func (r *Repository) History(ctx context.Context, requestID uuid.UUID) ([]domain.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, actor_id, actor_role, notes, created_at
		FROM request_status_history
		WHERE request_id = $1
		ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "query history", err).WithOp(opGet)
	}
	defer rows.Close()

	var history []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		var notes *string
		if err := rows.Scan(&c.Status, &c.ActorID, &c.ActorRole, &notes, &c.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan history", err).WithOp(opGet)
		}
		if notes != nil {
			c.Notes = *notes
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "iterate history", err).WithOp(opGet)
	}
	return history, nil
}

// AppendHistoryTx appends one StatusChange row. History is insert-only; there
// is no update or delete path.
func (r *Repository) AppendHistoryTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, change domain.StatusChange) error {
	var notes *string
	if change.Notes != "" {
		notes = &change.Notes
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO request_status_history (request_id, status, actor_id, actor_role, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, requestID, change.Status, change.ActorID, change.ActorRole, notes, change.Timestamp)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "append history", err).WithOp(opHistory)
	}
	return nil
}

// StatusUpdate carries the computed field changes of one transition.
type StatusUpdate struct {
	Status        domain.Status
	ContractorID  *uuid.UUID
	SetContractor bool // when true, contractor_id is written (possibly to NULL)
	AssignedDate  *time.Time
	CompletedDate *time.Time
	Priority      *domain.Priority
	UpdatedAt     time.Time
}

// UpdateStatusTx applies a transition's field changes with an optimistic
// version check. Returns a conflict when the version is stale, which the
// caller retries via db.WithRetry.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectedVersion int64, upd StatusUpdate) error {
	sql := `UPDATE maintenance_requests SET status = $1, updated_at = $2, version = version + 1`
	args := []any{upd.Status, upd.UpdatedAt}
	idx := 3

	if upd.SetContractor {
		sql += fmt.Sprintf(", contractor_id = $%d", idx)
		args = append(args, upd.ContractorID)
		idx++
	}
	if upd.AssignedDate != nil {
		sql += fmt.Sprintf(", assigned_date = $%d", idx)
		args = append(args, upd.AssignedDate)
		idx++
	}
	if upd.CompletedDate != nil {
		sql += fmt.Sprintf(", completed_date = $%d", idx)
		args = append(args, upd.CompletedDate)
		idx++
	}
	if upd.Priority != nil {
		sql += fmt.Sprintf(", priority = $%d", idx)
		args = append(args, *upd.Priority)
		idx++
	}

	sql += fmt.Sprintf(" WHERE id = $%d AND version = $%d", idx, idx+1)
	args = append(args, id, expectedVersion)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update request", err).WithOp(opUpdate)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("request was modified concurrently").WithOp(opUpdate)
	}
	return nil
}

// UpdatePriorityTx changes only the priority, with the same version check.
// Priority changes are not status transitions and append no history entry;
// the bulk audit record carries the change.
func (r *Repository) UpdatePriorityTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectedVersion int64, priority domain.Priority, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE maintenance_requests
		SET priority = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND version = $4
	`, priority, now, id, expectedVersion)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update priority", err).WithOp(opUpdate)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("request was modified concurrently").WithOp(opUpdate)
	}
	return nil
}

// AdjustPropertyCounterTx moves the property's active-request counter when a
// request enters or leaves the active set (completed/archived are inactive).
func (r *Repository) AdjustPropertyCounterTx(ctx context.Context, tx pgx.Tx, propertyID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE properties
		SET active_requests = GREATEST(active_requests + $1, 0)
		WHERE id = $2
	`, delta, propertyID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "adjust property counter", err).WithOp(opUpdate)
	}
	return nil
}

// List returns requests matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]domain.MaintenanceRequest, error) {
	sql := `SELECT ` + requestColumns + ` FROM maintenance_requests WHERE 1=1`
	var args []any
	idx := 1

	add := func(clause string, value any) {
		sql += fmt.Sprintf(" AND %s = $%d", clause, idx)
		args = append(args, value)
		idx++
	}

	if f.PropertyID != uuid.Nil {
		add("property_id", f.PropertyID)
	}
	if f.TenantID != uuid.Nil {
		add("tenant_id", f.TenantID)
	}
	if f.ContractorID != uuid.Nil {
		add("contractor_id", f.ContractorID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Priority != "" {
		add("priority", f.Priority)
	}

	limit := f.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list requests", err).WithOp(opList)
	}
	defer rows.Close()

	var out []domain.MaintenanceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan request", err).WithOp(opList)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "iterate requests", err).WithOp(opList)
	}
	return out, nil
}

// ListByIDs loads requests for a bounded id set. Callers chunk the ids; the
// 30-id boundary lives in the bulk executor.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.MaintenanceRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM maintenance_requests WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list requests by ids", err).WithOp(opList)
	}
	defer rows.Close()

	var out []domain.MaintenanceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan request", err).WithOp(opList)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
