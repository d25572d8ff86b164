// Package contractors provides the contractor assignment bounded context.
// It subscribes to request lifecycle events and keeps bucket membership in
// sync with request status.
package contractors

import (
	"context"
	"net/http"

	"propertyops_backend/internal/contractors/repository"
	"propertyops_backend/internal/contractors/service"
	"propertyops_backend/internal/events"
	apphttp "propertyops_backend/internal/http"
	requestrepo "propertyops_backend/internal/requests/repository"
	"propertyops_backend/platform/httpkit"
	"propertyops_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the contractors bounded context module implementing http.Module.
type Module struct {
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the contractors module.
func NewModule(pool *pgxpool.Pool, requests *requestrepo.Repository, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(pool, repo, requests, bus, log)

	return &Module{
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "contractors"
}

// Service returns the assignment coordinator for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts contractor routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/requests/:id/decline", m.decline)
	ctx.Protected.GET("/contractors/:id/contracts", m.contracts)
}

// RegisterHandlers subscribes to request lifecycle events for bucket moves.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.RequestStatusChanged{}.EventName(), m)
}

// Handle routes events to the coordinator.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.RequestStatusChanged:
		return m.service.SyncFromStatus(ctx, e)
	default:
		return nil
	}
}

func (m *Module) decline(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var dto struct {
		Reason string `json:"reason" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	if err := m.service.DeclineAssignment(c.Request.Context(), requestID, ident.UserID(), dto.Reason); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"declined": true})
}

func (m *Module) contracts(c *gin.Context) {
	contractorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid contractor id", nil)
		return
	}

	contracts, err := m.service.Contracts(c.Request.Context(), contractorID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, contracts)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
