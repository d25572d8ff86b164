package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

type Notifications struct {
	pool *pgxpool.Pool
}

func NewNotifications(pool *pgxpool.Pool) *Notifications {
	return &Notifications{pool: pool}
}

const notificationColumns = `id, rule_id, type, priority, title, message, recipients,
	delivery, escalation, status, scheduled_for, expires_at, created_at, updated_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n          domain.Notification
		recipients []byte
		delivery   []byte
		escalation []byte
	)
	err := row.Scan(&n.ID, &n.RuleID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&recipients, &delivery, &escalation, &n.Status,
		&n.ScheduledFor, &n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := json.Unmarshal(recipients, &n.Recipients); err != nil {
		return domain.Notification{}, fmt.Errorf("decode recipients: %w", err)
	}
	if len(delivery) > 0 {
		if err := json.Unmarshal(delivery, &n.Delivery); err != nil {
			return domain.Notification{}, fmt.Errorf("decode delivery: %w", err)
		}
	}
	if len(escalation) > 0 {
		if err := json.Unmarshal(escalation, &n.Escalation); err != nil {
			return domain.Notification{}, fmt.Errorf("decode escalation: %w", err)
		}
	}
	return n, nil
}

func (r *Notifications) Insert(ctx context.Context, n *domain.Notification) error {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return apperr.Internal("encode recipients", err)
	}
	var escalation []byte
	if n.Escalation != nil {
		if escalation, err = json.Marshal(n.Escalation); err != nil {
			return apperr.Internal("encode escalation state", err)
		}
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, rule_id, type, priority, title, message,
			recipients, delivery, escalation, status, scheduled_for, expires_at,
			next_escalation_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}', $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		n.ID, n.RuleID, n.Type, n.Priority, n.Title, n.Message,
		recipients, escalation, n.Status, n.ScheduledFor, n.ExpiresAt,
		nextEscalationAt(n),
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return apperr.Internal("create notification", err)
	}
	return nil
}

// next_escalation_at is denormalized out of the escalation document so the
// scheduler can index-scan for due work.
func nextEscalationAt(n *domain.Notification) *time.Time {
	if n.Escalation == nil {
		return nil
	}
	return n.Escalation.NextEscalationAt
}

func (r *Notifications) GetByID(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, apperr.NotFound("notification not found")
	}
	if err != nil {
		return domain.Notification{}, apperr.Internal("get notification", err)
	}
	return n, nil
}

// SaveDelivery persists the delivery map and the settled status after a
// dispatch pass.
func (r *Notifications) SaveDelivery(ctx context.Context, id uuid.UUID, delivery map[string]domain.DeliveryState, status domain.Status) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return apperr.Internal("encode delivery state", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery = $2, status = $3, updated_at = now()
		WHERE id = $1`, id, data, status)
	if err != nil {
		return apperr.Internal("save delivery state", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}

// Cancel marks a still-pending notification cancelled. Already-dispatched
// notifications are left alone.
func (r *Notifications) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, domain.StatusCancelled, domain.StatusPending)
	if err != nil {
		return apperr.Internal("cancel notification", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("notification is no longer pending")
	}
	return nil
}

// Acknowledge records the first acknowledgment and halts escalation. A
// second acknowledgment is a no-op.
func (r *Notifications) Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET escalation = jsonb_set(coalesce(escalation, '{}'), '{acknowledgedAt}', to_jsonb($2::timestamptz)),
			next_escalation_at = NULL,
			updated_at = now()
		WHERE id = $1 AND (escalation IS NULL OR escalation->>'acknowledgedAt' IS NULL)`,
		id, at)
	if err != nil {
		return false, apperr.Internal("acknowledge notification", err)
	}
	return tag.RowsAffected() > 0, nil
}
