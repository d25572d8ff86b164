package bulk

import (
	"net/http"

	apphttp "propertyops_backend/internal/http"
	"propertyops_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module is the bulk operations module implementing http.Module.
type Module struct {
	service *Service
	repo    *Repository
}

// NewModule wires the bulk executor against the requests service.
func NewModule(service *Service, repo *Repository) *Module {
	return &Module{service: service, repo: repo}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "bulk"
}

// Service returns the executor for external use.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts bulk routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/requests/bulk", m.execute)
	ctx.Protected.GET("/bulk-operations/:id", m.get)
}

type executeDTO struct {
	RequestIDs    []uuid.UUID `json:"requestIds" binding:"required,min=1"`
	OperationType string      `json:"operationType" binding:"required,oneof=assign_contractor change_priority change_status archive mark_completed"`
	Parameters    Parameters  `json:"parameters"`
}

func (m *Module) execute(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	var dto executeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	record, err := m.service.Execute(c.Request.Context(), dto.RequestIDs, OperationType(dto.OperationType), dto.Parameters, ident.UserID())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, record)
}

func (m *Module) get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid operation id", nil)
		return
	}

	record, err := m.repo.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, record)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
