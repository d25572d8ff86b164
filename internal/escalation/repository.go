package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ---- ladders ----

func (r *Repository) GetLadder(ctx context.Context, id uuid.UUID) (Ladder, error) {
	var (
		l      Ladder
		levels []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, levels, created_at, updated_at
		FROM escalation_rules WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &levels, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ladder{}, apperr.NotFound("escalation ladder not found")
	}
	if err != nil {
		return Ladder{}, apperr.Internal("get escalation ladder", err)
	}
	if err := json.Unmarshal(levels, &l.Levels); err != nil {
		return Ladder{}, apperr.Internal("decode escalation levels", err)
	}
	return l, nil
}

func (r *Repository) ListLadders(ctx context.Context) ([]Ladder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, levels, created_at, updated_at
		FROM escalation_rules ORDER BY name ASC`)
	if err != nil {
		return nil, apperr.Internal("list escalation ladders", err)
	}
	defer rows.Close()

	var ladders []Ladder
	for rows.Next() {
		var (
			l      Ladder
			levels []byte
		)
		if err := rows.Scan(&l.ID, &l.Name, &levels, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, apperr.Internal("scan escalation ladder", err)
		}
		if err := json.Unmarshal(levels, &l.Levels); err != nil {
			return nil, apperr.Internal("decode escalation levels", err)
		}
		ladders = append(ladders, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate escalation ladders", err)
	}
	return ladders, nil
}

// UpsertLadder inserts or refreshes a ladder by name. Used by the seed
// loader at startup.
func (r *Repository) UpsertLadder(ctx context.Context, l *Ladder) error {
	levels, err := json.Marshal(l.Levels)
	if err != nil {
		return apperr.Internal("encode escalation levels", err)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO escalation_rules (id, name, levels)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET levels = EXCLUDED.levels, updated_at = now()
		RETURNING id, created_at, updated_at`,
		l.ID, l.Name, levels,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return apperr.Internal("upsert escalation ladder", err)
	}
	return nil
}

// ---- due work and claims ----

// Due returns notifications whose escalation deadline has passed and that
// are not under a live claim. The claim itself happens per notification in
// Claim, so concurrent tickers can share a Due batch safely.
func (r *Repository) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM notifications
		WHERE next_escalation_at IS NOT NULL
			AND next_escalation_at <= $1
			AND status NOT IN ('cancelled', 'expired')
			AND (claimed_until IS NULL OR claimed_until < $1)
		ORDER BY next_escalation_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperr.Internal("list due escalations", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan due escalation", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate due escalations", err)
	}
	return ids, nil
}

// PendingItem is one row of the pending-escalation listing.
type PendingItem struct {
	NotificationID   uuid.UUID  `json:"notificationId"`
	Title            string     `json:"title"`
	Priority         string     `json:"priority"`
	Level            int        `json:"level"`
	NextEscalationAt *time.Time `json:"nextEscalationAt,omitempty"`
}

// Pending lists notifications still on an active ladder, soonest first.
func (r *Repository) Pending(ctx context.Context, limit int) ([]PendingItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, priority, coalesce((escalation->>'level')::int, 0), next_escalation_at
		FROM notifications
		WHERE next_escalation_at IS NOT NULL
			AND status NOT IN ('cancelled', 'expired')
		ORDER BY next_escalation_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Internal("list pending escalations", err)
	}
	defer rows.Close()

	var items []PendingItem
	for rows.Next() {
		var item PendingItem
		if err := rows.Scan(&item.NotificationID, &item.Title, &item.Priority,
			&item.Level, &item.NextEscalationAt); err != nil {
			return nil, apperr.Internal("scan pending escalation", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate pending escalations", err)
	}
	return items, nil
}

// Claim takes a short-lived exclusive claim on one due notification. The
// conditional update re-checks the deadline, the acknowledgment, and any
// competing claim in a single statement, so exactly one concurrent ticker
// wins. Losers get a claim-lost error, which the caller treats as normal.
func (r *Repository) Claim(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) (domain.Notification, error) {
	var (
		n          domain.Notification
		recipients []byte
		escalation []byte
	)
	err := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET claimed_until = $3, claimed_by = $4
		WHERE id = $1
			AND next_escalation_at IS NOT NULL
			AND next_escalation_at <= $2
			AND status NOT IN ('cancelled', 'expired')
			AND (claimed_until IS NULL OR claimed_until < $2)
			AND (escalation IS NULL OR escalation->>'acknowledgedAt' IS NULL)
		RETURNING id, rule_id, type, priority, title, message, recipients, escalation, status, expires_at`,
		id, now, now.Add(ttl), token,
	).Scan(&n.ID, &n.RuleID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&recipients, &escalation, &n.Status, &n.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, apperr.ClaimLost("escalation already claimed or resolved")
	}
	if err != nil {
		return domain.Notification{}, apperr.Internal("claim escalation", err)
	}
	if err := json.Unmarshal(recipients, &n.Recipients); err != nil {
		return domain.Notification{}, apperr.Internal("decode recipients", err)
	}
	if len(escalation) > 0 {
		if err := json.Unmarshal(escalation, &n.Escalation); err != nil {
			return domain.Notification{}, apperr.Internal("decode escalation state", err)
		}
	}
	return n, nil
}

// Advance writes the post-escalation state and releases the claim. The
// claim token guards against a ticker that lost its claim to a TTL expiry
// writing stale state, and the acknowledgment re-check guards against an
// acknowledgment that landed while the fan-out was in flight: the write
// built from the pre-ack snapshot must not clobber it. Either way the
// caller gets a claim-lost error and stops quietly.
func (r *Repository) Advance(ctx context.Context, id, token uuid.UUID, state *domain.EscalationState, status domain.Status) error {
	escalation, err := json.Marshal(state)
	if err != nil {
		return apperr.Internal("encode escalation state", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET escalation = $3,
			next_escalation_at = $4,
			status = $5,
			claimed_until = NULL,
			claimed_by = NULL,
			updated_at = now()
		WHERE id = $1 AND claimed_by = $2
			AND (escalation IS NULL OR escalation->>'acknowledgedAt' IS NULL)`,
		id, token, escalation, state.NextEscalationAt, status)
	if err != nil {
		return apperr.Internal("advance escalation", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ClaimLost("escalation claim expired or notification acknowledged")
	}
	return nil
}

// Release drops a claim without advancing, e.g. after a delivery error.
func (r *Repository) Release(ctx context.Context, id, token uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET claimed_until = NULL, claimed_by = NULL
		WHERE id = $1 AND claimed_by = $2`, id, token)
	if err != nil {
		return apperr.Internal("release escalation claim", err)
	}
	return nil
}
