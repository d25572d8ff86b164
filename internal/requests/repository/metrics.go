package repository

import (
	"context"
	"time"

	"propertyops_backend/platform/apperr"

	"github.com/google/uuid"
)

const opMetrics = "requests.repository.metrics"

// ResolutionMetrics aggregates completed-request performance for a property
// over a time window. Resolution time is completed_date minus created_at,
// averaged over requests completed inside the window.
type ResolutionMetrics struct {
	PropertyID        uuid.UUID     `json:"propertyId"`
	CompletedCount    int           `json:"completedCount"`
	AvgResolutionTime time.Duration `json:"avgResolutionTime"`
	EmergencyCount    int           `json:"emergencyCount"`
}

// ResolutionMetrics computes the aggregation for one property and window.
func (r *Repository) ResolutionMetrics(ctx context.Context, propertyID uuid.UUID, from, to time.Time) (ResolutionMetrics, error) {
	m := ResolutionMetrics{PropertyID: propertyID}

	var avgSeconds *float64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       AVG(EXTRACT(EPOCH FROM (completed_date - created_at))),
		       COUNT(*) FILTER (WHERE is_emergency)
		FROM maintenance_requests
		WHERE property_id = $1
		  AND completed_date IS NOT NULL
		  AND completed_date >= $2
		  AND completed_date < $3
	`, propertyID, from, to).Scan(&m.CompletedCount, &avgSeconds, &m.EmergencyCount)
	if err != nil {
		return ResolutionMetrics{}, apperr.Wrap(apperr.KindInternal, "resolution metrics", err).WithOp(opMetrics)
	}

	if avgSeconds != nil {
		m.AvgResolutionTime = time.Duration(*avgSeconds * float64(time.Second))
	}
	return m, nil
}
