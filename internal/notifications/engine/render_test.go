package engine

import (
	"strings"
	"testing"

	"propertyops_backend/internal/notifications/domain"

	"github.com/google/uuid"
)

func TestRenderMessage_TemplatePlaceholders(t *testing.T) {
	ev := domain.TriggerEvent{
		Type:      domain.TriggerRequestStatusChanged,
		RequestID: uuid.New(),
		Priority:  domain.PriorityUrgent,
		Status:    "assigned",
	}
	rule := domain.NotificationRule{Template: "Request {request} is now {status} ({priority})."}

	got := renderMessage(rule, ev)
	want := "Request " + ev.RequestID.String() + " is now assigned (urgent)."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderMessage_DefaultTemplates(t *testing.T) {
	ev := domain.TriggerEvent{
		Type:       domain.TriggerRequestCreated,
		PropertyID: uuid.New(),
		Priority:   domain.PriorityHigh,
	}
	got := renderMessage(domain.NotificationRule{}, ev)
	if !strings.Contains(got, "high") || !strings.Contains(got, ev.PropertyID.String()) {
		t.Fatalf("default template did not expand placeholders: %q", got)
	}

	got = renderMessage(domain.NotificationRule{}, domain.TriggerEvent{Type: "unknown.event"})
	if got != "You have a new notification." {
		t.Fatalf("unexpected fallback: %q", got)
	}
}

func TestRenderTitle(t *testing.T) {
	if got := renderTitle(domain.NotificationRule{}, domain.TriggerEvent{Type: domain.TriggerAssignmentDeclined}); got != "Contractor declined assignment" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := renderTitle(domain.NotificationRule{Name: "custom rule"}, domain.TriggerEvent{Type: "x"}); got != "custom rule" {
		t.Fatalf("unknown events fall back to the rule name, got %q", got)
	}
}
