package escalation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/events"
	apphttp "propertyops_backend/internal/http"
	"propertyops_backend/platform/config"
	"propertyops_backend/platform/httpkit"
	"propertyops_backend/platform/logger"
)

// Module is the escalation bounded context module implementing http.Module.
type Module struct {
	service *Service
	repo    *Repository
}

// NewModule creates and initializes the escalation module.
func NewModule(pool *pgxpool.Pool, fanout FanOut, dir Directory, acks Acknowledger, bus events.Bus, log *logger.Logger, cfg config.EscalationConfig) *Module {
	repo := NewRepository(pool)
	return &Module{
		service: NewService(repo, fanout, dir, acks, bus, log, cfg),
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "escalation"
}

// Service returns the escalation scheduler for external wiring.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts escalation routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/notifications/:id/acknowledge", m.acknowledge)
	ctx.Admin.GET("/escalations/pending", m.pending)
	ctx.Admin.POST("/escalations/tick", m.tick)
	ctx.Admin.GET("/escalation-ladders", m.ladders)
}

func (m *Module) acknowledge(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	if err := m.service.Acknowledge(c.Request.Context(), notificationID, ident.UserID()); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"acknowledged": true})
}

func (m *Module) pending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	items, err := m.repo.Pending(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"escalations": items, "count": len(items)})
}

// tick runs one scheduler pass on demand. The worker runs the same pass on
// an interval; this endpoint exists for operations and debugging.
func (m *Module) tick(c *gin.Context) {
	summary, err := m.service.Tick(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, summary)
}

func (m *Module) ladders(c *gin.Context) {
	ladders, err := m.repo.ListLadders(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"ladders": ladders, "count": len(ladders)})
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
