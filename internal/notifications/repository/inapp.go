package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

// FeedItem is one entry of a user's in-app notification feed.
type FeedItem struct {
	ID             uuid.UUID       `json:"id"`
	NotificationID uuid.UUID       `json:"notificationId"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Priority       domain.Priority `json:"priority"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Feed persists per-user in-app deliveries.
type Feed struct {
	pool *pgxpool.Pool
}

func NewFeed(pool *pgxpool.Pool) *Feed {
	return &Feed{pool: pool}
}

func (r *Feed) Append(ctx context.Context, userID, notificationID uuid.UUID, title, message string, priority domain.Priority) (FeedItem, error) {
	item := FeedItem{
		ID:             uuid.New(),
		NotificationID: notificationID,
		Title:          title,
		Message:        message,
		Priority:       priority,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO in_app_notifications (id, notification_id, user_id, title, message, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		item.ID, item.NotificationID, userID, item.Title, item.Message, item.Priority,
	).Scan(&item.CreatedAt)
	if err != nil {
		return FeedItem{}, apperr.Internal("append in-app notification", err)
	}
	return item, nil
}

func (r *Feed) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]FeedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, notification_id, title, message, priority, read_at, created_at
		FROM in_app_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperr.Internal("list in-app notifications", err)
	}
	defer rows.Close()

	var items []FeedItem
	for rows.Next() {
		var item FeedItem
		if err := rows.Scan(&item.ID, &item.NotificationID, &item.Title, &item.Message,
			&item.Priority, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, apperr.Internal("scan in-app notification", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate in-app notifications", err)
	}
	return items, nil
}

func (r *Feed) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM in_app_notifications
		WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal("count unread notifications", err)
	}
	return count, nil
}

func (r *Feed) MarkRead(ctx context.Context, userID, itemID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE in_app_notifications
		SET read_at = now()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, itemID, userID)
	if err != nil {
		return apperr.Internal("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}
