// Package transport defines the HTTP request and response shapes for the
// notifications module.
package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

// RuleDTO is the wire form of a notification rule. Conditions travel as the
// discriminated-envelope JSON the repository stores.
type RuleDTO struct {
	ID               uuid.UUID            `json:"id"`
	Name             string               `json:"name"`
	Event            string               `json:"event"`
	Conditions       json.RawMessage      `json:"conditions,omitempty"`
	Channels         []domain.Channel     `json:"channels"`
	Recipients       recipientSelectorDTO `json:"recipients"`
	Template         string               `json:"template,omitempty"`
	EscalationRuleID *uuid.UUID           `json:"escalationRuleId,omitempty"`
	Enabled          bool                 `json:"enabled"`
	Analytics        domain.RuleAnalytics `json:"analytics"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

type recipientSelectorDTO struct {
	Kind    domain.SelectorKind `json:"kind" binding:"required,oneof=users roles property"`
	UserIDs []uuid.UUID         `json:"userIds,omitempty"`
	Roles   []string            `json:"roles,omitempty"`
}

// SaveRuleDTO is the create/update payload.
type SaveRuleDTO struct {
	Name             string               `json:"name" binding:"required,max=200"`
	Event            string               `json:"event" binding:"required"`
	Conditions       json.RawMessage      `json:"conditions,omitempty"`
	Channels         []domain.Channel     `json:"channels" binding:"required,min=1,dive,oneof=email sms push in_app"`
	Recipients       recipientSelectorDTO `json:"recipients" binding:"required"`
	Template         string               `json:"template" binding:"max=2000"`
	EscalationRuleID *uuid.UUID           `json:"escalationRuleId,omitempty"`
	Enabled          *bool                `json:"enabled,omitempty"`
}

// ToDomain validates and converts the payload into a rule.
func (d SaveRuleDTO) ToDomain(id uuid.UUID) (domain.NotificationRule, error) {
	if !domain.ValidTrigger(d.Event) {
		return domain.NotificationRule{}, apperr.Validation("unknown trigger event: " + d.Event)
	}
	conditions, err := domain.UnmarshalConditions(d.Conditions)
	if err != nil {
		return domain.NotificationRule{}, apperr.Validation("invalid conditions: " + err.Error())
	}
	switch d.Recipients.Kind {
	case domain.SelectUsers:
		if len(d.Recipients.UserIDs) == 0 {
			return domain.NotificationRule{}, apperr.Validation("user selector needs at least one user id")
		}
	case domain.SelectRoles:
		if len(d.Recipients.Roles) == 0 {
			return domain.NotificationRule{}, apperr.Validation("role selector needs at least one role")
		}
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return domain.NotificationRule{
		ID:         id,
		Name:       d.Name,
		Event:      d.Event,
		Conditions: conditions,
		Channels:   d.Channels,
		Recipients: domain.RecipientSelector{
			Kind:    d.Recipients.Kind,
			UserIDs: d.Recipients.UserIDs,
			Roles:   d.Recipients.Roles,
		},
		Template:         d.Template,
		EscalationRuleID: d.EscalationRuleID,
		Enabled:          enabled,
	}, nil
}

// RuleFromDomain converts a rule to its wire form.
func RuleFromDomain(r domain.NotificationRule) (RuleDTO, error) {
	conditions, err := domain.MarshalConditions(r.Conditions)
	if err != nil {
		return RuleDTO{}, apperr.Internal("encode rule conditions", err)
	}
	return RuleDTO{
		ID:         r.ID,
		Name:       r.Name,
		Event:      r.Event,
		Conditions: conditions,
		Channels:   r.Channels,
		Recipients: recipientSelectorDTO{
			Kind:    r.Recipients.Kind,
			UserIDs: r.Recipients.UserIDs,
			Roles:   r.Recipients.Roles,
		},
		Template:         r.Template,
		EscalationRuleID: r.EscalationRuleID,
		Enabled:          r.Enabled,
		Analytics:        r.Analytics,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

// PreferencesDTO is the save payload for a user's notification settings.
type PreferencesDTO struct {
	Channels          []domain.Channel `json:"channels" binding:"required,dive,oneof=email sms push in_app"`
	QuietHoursEnabled bool             `json:"quietHoursEnabled"`
	QuietStart        string           `json:"quietStart" binding:"omitempty"`
	QuietEnd          string           `json:"quietEnd" binding:"omitempty"`
}

// ToDomain converts the payload, defaulting the quiet window to 22:00-08:00.
func (d PreferencesDTO) ToDomain(userID uuid.UUID) (domain.Preferences, error) {
	quiet := domain.DefaultQuietHours()
	quiet.Enabled = d.QuietHoursEnabled
	if d.QuietStart != "" {
		start, err := domain.ParseTimeOfDay(d.QuietStart)
		if err != nil {
			return domain.Preferences{}, err
		}
		quiet.Start = start
	}
	if d.QuietEnd != "" {
		end, err := domain.ParseTimeOfDay(d.QuietEnd)
		if err != nil {
			return domain.Preferences{}, err
		}
		quiet.End = end
	}
	return domain.Preferences{
		UserID:     userID,
		Channels:   d.Channels,
		QuietHours: quiet,
	}, nil
}

// SendDTO is the direct-send payload used by operators. ScheduledFor in the
// future defers delivery.
type SendDTO struct {
	Title        string           `json:"title" binding:"required,max=200"`
	Message      string           `json:"message" binding:"required,max=5000"`
	Priority     domain.Priority  `json:"priority" binding:"required,oneof=low normal high urgent"`
	Recipients   []uuid.UUID      `json:"recipients" binding:"required,min=1"`
	Channels     []domain.Channel `json:"channels" binding:"required,min=1,dive,oneof=email sms push in_app"`
	ScheduledFor *time.Time       `json:"scheduledFor,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
}
