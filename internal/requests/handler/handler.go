// Package handler exposes the maintenance-request HTTP endpoints.
package handler

import (
	"net/http"
	"time"

	"propertyops_backend/internal/requests/domain"
	"propertyops_backend/internal/requests/repository"
	"propertyops_backend/internal/requests/service"
	"propertyops_backend/internal/requests/transport"
	"propertyops_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /requests.
func (h *Handler) Create(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	var dto transport.CreateRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	created, err := h.svc.Create(c.Request.Context(), service.CreateParams{
		PropertyID:  dto.PropertyID,
		TenantID:    ident.UserID(),
		Title:       dto.Title,
		Description: dto.Description,
		Category:    domain.Category(dto.Category),
		Priority:    domain.Priority(dto.Priority),
		ActorID:     ident.UserID(),
		ActorRole:   ident.PrimaryRole(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.FromDomain(created))
}

// Get handles GET /requests/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromDomain(req))
}

// List handles GET /requests with optional filters.
func (h *Handler) List(c *gin.Context) {
	f := repository.Filter{
		Status:   domain.Status(c.Query("status")),
		Priority: domain.Priority(c.Query("priority")),
	}
	if v := c.Query("propertyId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid propertyId", nil)
			return
		}
		f.PropertyID = id
	}
	if v := c.Query("contractorId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid contractorId", nil)
			return
		}
		f.ContractorID = id
	}
	if f.Status != "" && !domain.IsValidStatus(f.Status) {
		httpkit.Error(c, http.StatusBadRequest, "unknown status filter", nil)
		return
	}

	list, err := h.svc.List(c.Request.Context(), f)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.RequestDTO, 0, len(list))
	for _, r := range list {
		out = append(out, transport.FromDomain(r))
	}
	httpkit.OK(c, gin.H{"requests": out})
}

// Transition handles POST /requests/:id/transition.
func (h *Handler) Transition(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var dto transport.TransitionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	updated, err := h.svc.Transition(c.Request.Context(), service.TransitionParams{
		RequestID:    id,
		NewStatus:    domain.Status(dto.Status),
		ActorID:      ident.UserID(),
		ActorRole:    ident.PrimaryRole(),
		Notes:        dto.Notes,
		ContractorID: dto.ContractorID,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromDomain(updated))
}

// Metrics handles GET /properties/:id/request-metrics.
func (h *Handler) Metrics(c *gin.Context) {
	propertyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid property id", nil)
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid from timestamp", nil)
			return
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid to timestamp", nil)
			return
		}
		to = parsed
	}

	metrics, err := h.svc.Metrics(c.Request.Context(), propertyID, from, to)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, metrics)
}
