package sse

import (
	"testing"

	"propertyops_backend/internal/notifications/repository"

	"github.com/google/uuid"
)

func TestHub_PublishRequestRespectsFilter(t *testing.T) {
	hub := NewHub()
	propertyID := uuid.New()

	allID, all := hub.SubscribeRequests(RequestFilter{})
	defer hub.Unsubscribe(allID)
	filteredID, filtered := hub.SubscribeRequests(RequestFilter{PropertyID: &propertyID, Status: "assigned"})
	defer hub.Unsubscribe(filteredID)

	hub.PublishRequest(RequestEvent{RequestID: uuid.New(), PropertyID: uuid.New(), Status: "assigned"})
	hub.PublishRequest(RequestEvent{RequestID: uuid.New(), PropertyID: propertyID, Status: "submitted"})
	hub.PublishRequest(RequestEvent{RequestID: uuid.New(), PropertyID: propertyID, Status: "assigned"})

	if got := len(all); got != 3 {
		t.Fatalf("unfiltered subscriber should see all events, got %d", got)
	}
	if got := len(filtered); got != 1 {
		t.Fatalf("filtered subscriber should see only the matching event, got %d", got)
	}
	ev := <-filtered
	if ev.PropertyID != propertyID || ev.Status != "assigned" {
		t.Fatalf("wrong event delivered: %+v", ev)
	}
}

func TestHub_PublishNotificationPerUser(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()
	bob := uuid.New()

	aliceSubID, aliceCh := hub.SubscribeNotifications(alice)
	defer hub.Unsubscribe(aliceSubID)
	bobSubID, bobCh := hub.SubscribeNotifications(bob)
	defer hub.Unsubscribe(bobSubID)

	hub.PublishNotification(alice, repository.FeedItem{ID: uuid.New(), Title: "hello"})

	if len(aliceCh) != 1 {
		t.Fatalf("expected alice to receive the item")
	}
	if len(bobCh) != 0 {
		t.Fatalf("bob must not receive another user's notification")
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	id, ch := hub.SubscribeRequests(RequestFilter{})

	hub.Unsubscribe(id)
	hub.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	hub.PublishRequest(RequestEvent{RequestID: uuid.New()})
	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected no remaining subscribers")
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	id, ch := hub.SubscribeRequests(RequestFilter{})
	defer hub.Unsubscribe(id)

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.PublishRequest(RequestEvent{RequestID: uuid.New()})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected buffer capped at %d events, got %d", subscriberBuffer, got)
	}
}
