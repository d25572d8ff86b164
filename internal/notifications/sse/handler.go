package sse

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"propertyops_backend/internal/notifications/repository"
	"propertyops_backend/platform/httpkit"
)

// heartbeatInterval keeps intermediaries from timing out idle streams.
const heartbeatInterval = 25 * time.Second

// RequestSnapshotter provides the initial state sent when a request stream
// opens.
type RequestSnapshotter interface {
	Snapshot(ctx context.Context, filter RequestFilter) (any, error)
}

// FeedReader provides the initial state sent when a notification stream
// opens.
type FeedReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.FeedItem, error)
}

type Handler struct {
	hub      *Hub
	requests RequestSnapshotter
	feed     FeedReader
}

func NewHandler(hub *Hub, requests RequestSnapshotter, feed FeedReader) *Handler {
	return &Handler{hub: hub, requests: requests, feed: feed}
}

// StreamRequests opens a filtered request event stream. The first frame is
// a snapshot of matching requests; subsequent frames are live updates.
func (h *Handler) StreamRequests(c *gin.Context) {
	filter := RequestFilter{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
	}
	if raw := c.Query("propertyId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.Error(c, 400, "invalid propertyId", nil)
			return
		}
		filter.PropertyID = &id
	}

	snapshot, err := h.requests.Snapshot(c.Request.Context(), filter)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	id, ch := h.hub.SubscribeRequests(filter)
	defer h.hub.Unsubscribe(id)

	setStreamHeaders(c)
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	stream(c, func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("request", ev)
		case <-time.After(heartbeatInterval):
			c.SSEvent("heartbeat", time.Now().UTC())
		case <-c.Request.Context().Done():
			return false
		}
		return true
	})
}

// StreamNotifications opens the caller's notification stream. The first
// frame is their current feed; subsequent frames are new items.
func (h *Handler) StreamNotifications(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	items, err := h.feed.ListForUser(c.Request.Context(), identity.UserID(), 50)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	id, ch := h.hub.SubscribeNotifications(identity.UserID())
	defer h.hub.Unsubscribe(id)

	setStreamHeaders(c)
	c.SSEvent("snapshot", items)
	c.Writer.Flush()

	stream(c, func(w io.Writer) bool {
		select {
		case item, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notification", item)
		case <-time.After(heartbeatInterval):
			c.SSEvent("heartbeat", time.Now().UTC())
		case <-c.Request.Context().Done():
			return false
		}
		return true
	})
}

func setStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

func stream(c *gin.Context, step func(io.Writer) bool) {
	c.Stream(step)
}
