package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/platform/apperr"
)

// Directory resolves rule recipient selectors to concrete user ids.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// UsersByRole returns every recipient holding one of the given roles.
func (d *Directory) UsersByRole(ctx context.Context, roles []string) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT user_id FROM recipient_profiles WHERE role = ANY($1)`, roles)
	if err != nil {
		return nil, apperr.Internal("resolve users by role", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// UsersForProperty returns the members of a property: its landlord, its
// tenants, and any contractor currently assigned there.
func (d *Directory) UsersForProperty(ctx context.Context, propertyID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT user_id FROM property_members WHERE property_id = $1`, propertyID)
	if err != nil {
		return nil, apperr.Internal("resolve property members", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan recipient id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate recipient ids", err)
	}
	return ids, nil
}
