// Package sse implements the live subscription hub behind the event-stream
// endpoints.
package sse

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/internal/notifications/repository"
)

// RequestEvent is one request lifecycle update pushed to subscribers.
type RequestEvent struct {
	RequestID   uuid.UUID `json:"requestId"`
	PropertyID  uuid.UUID `json:"propertyId"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	IsEmergency bool      `json:"isEmergency"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// RequestFilter narrows a request subscription. Zero-value fields match
// everything.
type RequestFilter struct {
	PropertyID *uuid.UUID
	Status     string
	Priority   string
}

func (f RequestFilter) matches(ev RequestEvent) bool {
	if f.PropertyID != nil && *f.PropertyID != ev.PropertyID {
		return false
	}
	if f.Status != "" && f.Status != ev.Status {
		return false
	}
	if f.Priority != "" && f.Priority != ev.Priority {
		return false
	}
	return true
}

// subscriber buffer size. Slow consumers drop updates rather than block the
// publisher; the client catches up on its next snapshot.
const subscriberBuffer = 16

type requestSub struct {
	filter RequestFilter
	ch     chan RequestEvent
}

type notificationSub struct {
	userID uuid.UUID
	ch     chan repository.FeedItem
}

// Hub fans live updates out to subscribed clients. Subscriptions are keyed
// by id so Unsubscribe is idempotent: the first call closes the channel,
// later calls are no-ops.
type Hub struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*requestSub
	notifs   map[uuid.UUID]*notificationSub
}

func NewHub() *Hub {
	return &Hub{
		requests: make(map[uuid.UUID]*requestSub),
		notifs:   make(map[uuid.UUID]*notificationSub),
	}
}

// SubscribeRequests registers a filtered request stream.
func (h *Hub) SubscribeRequests(filter RequestFilter) (uuid.UUID, <-chan RequestEvent) {
	sub := &requestSub{filter: filter, ch: make(chan RequestEvent, subscriberBuffer)}
	id := uuid.New()
	h.mu.Lock()
	h.requests[id] = sub
	h.mu.Unlock()
	return id, sub.ch
}

// SubscribeNotifications registers a per-user notification stream.
func (h *Hub) SubscribeNotifications(userID uuid.UUID) (uuid.UUID, <-chan repository.FeedItem) {
	sub := &notificationSub{userID: userID, ch: make(chan repository.FeedItem, subscriberBuffer)}
	id := uuid.New()
	h.mu.Lock()
	h.notifs[id] = sub
	h.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe tears down a subscription of either kind. Safe to call more
// than once; no update is delivered after it returns.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.requests[id]; ok {
		delete(h.requests, id)
		close(sub.ch)
	}
	if sub, ok := h.notifs[id]; ok {
		delete(h.notifs, id)
		close(sub.ch)
	}
}

// PublishRequest delivers a request update to every subscription whose
// filter matches.
func (h *Hub) PublishRequest(ev RequestEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.requests {
		if !sub.filter.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// PublishNotification delivers a feed item to the user's open streams.
func (h *Hub) PublishNotification(userID uuid.UUID, item repository.FeedItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.notifs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- item:
		default:
		}
	}
}

// SubscriberCount reports open subscriptions of both kinds.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests) + len(h.notifs)
}
