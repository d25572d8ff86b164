package engine

import (
	"strings"

	"propertyops_backend/internal/notifications/domain"
)

// renderMessage expands the rule template, falling back to a generic line
// when no template is configured. Templates use {request}, {property},
// {priority}, and {status} placeholders.
func renderMessage(rule domain.NotificationRule, ev domain.TriggerEvent) string {
	tmpl := rule.Template
	if tmpl == "" {
		tmpl = defaultTemplate(ev.Type)
	}
	r := strings.NewReplacer(
		"{request}", ev.RequestID.String(),
		"{property}", ev.PropertyID.String(),
		"{priority}", string(ev.Priority),
		"{status}", ev.Status,
	)
	return r.Replace(tmpl)
}

func renderTitle(rule domain.NotificationRule, ev domain.TriggerEvent) string {
	switch ev.Type {
	case domain.TriggerRequestCreated:
		return "New maintenance request"
	case domain.TriggerRequestStatusChanged:
		return "Maintenance request updated"
	case domain.TriggerAssignmentDeclined:
		return "Contractor declined assignment"
	case domain.TriggerMessageReceived:
		return "New message"
	default:
		return rule.Name
	}
}

func defaultTemplate(event string) string {
	switch event {
	case domain.TriggerRequestCreated:
		return "A {priority} maintenance request was submitted for property {property}."
	case domain.TriggerRequestStatusChanged:
		return "Maintenance request {request} moved to {status}."
	case domain.TriggerAssignmentDeclined:
		return "The contractor declined maintenance request {request}. It is back in the pending queue."
	case domain.TriggerMessageReceived:
		return "A new message arrived on maintenance request {request}."
	default:
		return "You have a new notification."
	}
}
