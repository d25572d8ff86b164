package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

type Preferences struct {
	pool *pgxpool.Pool
}

func NewPreferences(pool *pgxpool.Pool) *Preferences {
	return &Preferences{pool: pool}
}

// defaultChannels applies to users who never saved preferences.
var defaultChannels = []domain.Channel{domain.ChannelEmail, domain.ChannelInApp}

// Get returns the stored preferences, or sensible defaults with contact
// details from the recipient profile when nothing was saved yet.
func (r *Preferences) Get(ctx context.Context, userID uuid.UUID) (domain.Preferences, error) {
	var (
		p        domain.Preferences
		channels []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT r.user_id, r.role, coalesce(n.channels, $2), r.email, coalesce(r.phone, ''),
			coalesce(r.push_token, ''),
			coalesce(n.quiet_hours_enabled, true),
			coalesce(n.quiet_start, 1320), coalesce(n.quiet_end, 480),
			coalesce(n.updated_at, r.updated_at)
		FROM recipient_profiles r
		LEFT JOIN notification_preferences n ON n.user_id = r.user_id
		WHERE r.user_id = $1`,
		userID, channelStrings(defaultChannels),
	).Scan(&p.UserID, &p.Role, &channels, &p.Email, &p.Phone, &p.PushToken,
		&p.QuietHours.Enabled, &p.QuietHours.Start, &p.QuietHours.End, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Preferences{}, apperr.NotFound("recipient not found")
	}
	if err != nil {
		return domain.Preferences{}, apperr.Internal("get notification preferences", err)
	}
	for _, c := range channels {
		p.Channels = append(p.Channels, domain.Channel(c))
	}
	return p, nil
}

// GetMany loads preferences for a recipient set, skipping unknown users.
func (r *Preferences) GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.Preferences, error) {
	out := make(map[uuid.UUID]domain.Preferences, len(userIDs))
	for _, id := range userIDs {
		p, err := r.Get(ctx, id)
		if apperr.GetKind(err) == apperr.KindNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Save upserts the channel opt-ins and quiet hours for a user.
func (r *Preferences) Save(ctx context.Context, p domain.Preferences) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, channels, quiet_hours_enabled, quiet_start, quiet_end)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET channels = EXCLUDED.channels,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			updated_at = now()`,
		p.UserID, channelStrings(p.Channels),
		p.QuietHours.Enabled, int(p.QuietHours.Start), int(p.QuietHours.End))
	if err != nil {
		return apperr.Internal("save notification preferences", err)
	}
	return nil
}
