// Package handler exposes the notifications HTTP surface.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/internal/notifications/repository"
	"propertyops_backend/internal/notifications/transport"
	"propertyops_backend/platform/httpkit"
)

// Sender creates operator-initiated notifications.
type Sender interface {
	Send(ctx context.Context, dto transport.SendDTO) (domain.Notification, error)
}

// Deliverer redelivers one notification on demand.
type Deliverer interface {
	Deliver(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	rules         *repository.Rules
	notifications *repository.Notifications
	prefs         *repository.Preferences
	feed          *repository.Feed
	sender        Sender
	deliverer     Deliverer
}

func New(rules *repository.Rules, notifications *repository.Notifications, prefs *repository.Preferences, feed *repository.Feed, sender Sender, deliverer Deliverer) *Handler {
	return &Handler{
		rules:         rules,
		notifications: notifications,
		prefs:         prefs,
		feed:          feed,
		sender:        sender,
		deliverer:     deliverer,
	}
}

// ---- rules ----

func (h *Handler) CreateRule(c *gin.Context) {
	var dto transport.SaveRuleDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	rule, err := dto.ToDomain(uuid.New())
	if httpkit.HandleError(c, err) {
		return
	}
	if err := h.rules.Create(c.Request.Context(), &rule); httpkit.HandleError(c, err) {
		return
	}

	out, err := transport.RuleFromDomain(rule)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, out)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	var dto transport.SaveRuleDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	rule, err := dto.ToDomain(id)
	if httpkit.HandleError(c, err) {
		return
	}
	if err := h.rules.Update(c.Request.Context(), &rule); httpkit.HandleError(c, err) {
		return
	}

	updated, err := h.rules.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	out, err := transport.RuleFromDomain(updated)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, out)
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.rules.List(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.RuleDTO, 0, len(rules))
	for _, rule := range rules {
		dto, err := transport.RuleFromDomain(rule)
		if httpkit.HandleError(c, err) {
			return
		}
		out = append(out, dto)
	}
	httpkit.OK(c, gin.H{"rules": out, "count": len(out)})
}

func (h *Handler) GetRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	out, err := transport.RuleFromDomain(rule)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, out)
}

func (h *Handler) ToggleRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	var dto struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	if err := h.rules.SetEnabled(c.Request.Context(), id, *dto.Enabled); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"enabled": *dto.Enabled})
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	if err := h.rules.Delete(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"deleted": true})
}

// ---- notifications ----

func (h *Handler) Send(c *gin.Context) {
	var dto transport.SendDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	n, err := h.sender.Send(c.Request.Context(), dto)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, n)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	n, err := h.notifications.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, n)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	if err := h.notifications.Cancel(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"cancelled": true})
}

// Redeliver retries the fan-out for a notification. Channels already marked
// sent are skipped, so this is safe to call after partial failures.
func (h *Handler) Redeliver(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	if err := h.deliverer.Deliver(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	n, err := h.notifications.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, n)
}

// ---- feed ----

func (h *Handler) Feed(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.feed.ListForUser(c.Request.Context(), ident.UserID(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"notifications": items, "count": len(items)})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	count, err := h.feed.UnreadCount(c.Request.Context(), ident.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"unread": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	if err := h.feed.MarkRead(c.Request.Context(), ident.UserID(), itemID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"read": true})
}

// ---- preferences ----

func (h *Handler) GetPreferences(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	prefs, err := h.prefs.Get(c.Request.Context(), ident.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, prefs)
}

func (h *Handler) SavePreferences(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	if ident == nil {
		return
	}

	var dto transport.PreferencesDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	prefs, err := dto.ToDomain(ident.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	if err := h.prefs.Save(c.Request.Context(), prefs); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"saved": true})
}
