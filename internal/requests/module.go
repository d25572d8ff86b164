// Package requests provides the maintenance-request bounded context module.
// It owns the request lifecycle state machine and its append-only audit trail.
package requests

import (
	apphttp "propertyops_backend/internal/http"
	"propertyops_backend/internal/requests/handler"
	"propertyops_backend/internal/requests/repository"
	"propertyops_backend/internal/requests/service"
	"propertyops_backend/platform/events"
	"propertyops_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the requests bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the requests module with all its dependencies.
func NewModule(pool *pgxpool.Pool, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(pool, repo, bus, log)
	h := handler.New(svc)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "requests"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts request lifecycle routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/requests")
	group.POST("", m.handler.Create)
	group.GET("", m.handler.List)
	group.GET("/:id", m.handler.Get)
	group.POST("/:id/transition", m.handler.Transition)

	ctx.Protected.GET("/properties/:id/request-metrics", m.handler.Metrics)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
