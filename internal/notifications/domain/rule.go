package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/platform/apperr"
)

// Trigger events a rule can react to. These mirror the event bus names.
const (
	TriggerRequestCreated       = "maintenance_request.created"
	TriggerRequestStatusChanged = "maintenance_request.status_changed"
	TriggerAssignmentDeclined   = "maintenance_request.assignment_declined"
	TriggerMessageReceived      = "communication.message_received"
)

var validTriggers = map[string]bool{
	TriggerRequestCreated:       true,
	TriggerRequestStatusChanged: true,
	TriggerAssignmentDeclined:   true,
	TriggerMessageReceived:      true,
}

// ValidTrigger reports whether the event name can drive a rule.
func ValidTrigger(event string) bool {
	return validTriggers[event]
}

// TriggerEvent is the normalized view of a bus event the rule engine
// evaluates conditions against.
type TriggerEvent struct {
	Type       string
	RequestID  uuid.UUID
	PropertyID uuid.UUID
	TenantID   uuid.UUID
	ActorRole  string
	Priority   Priority
	Status     string
	OccurredAt time.Time
}

// TimeOfDay is minutes since midnight, used by time-window conditions and
// quiet hours.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, apperr.Validation("invalid time of day, expected HH:MM")
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperr.Validation("time of day out of range")
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// At converts a wall-clock instant to minutes since midnight.
func At(instant time.Time) TimeOfDay {
	return TimeOfDay(instant.Hour()*60 + instant.Minute())
}

// InWindow reports whether t falls inside [start, end]. A window whose start
// is later than its end wraps past midnight: 22:00-06:00 matches 23:30 and
// 05:00 but not 12:00.
func InWindow(t, start, end TimeOfDay) bool {
	if start > end {
		return t >= start || t <= end
	}
	return t >= start && t <= end
}

// Condition is a closed set of rule trigger conditions. All conditions on a
// rule must match for the rule to fire.
type Condition interface {
	isCondition()
}

// PropertyCondition matches events about one of the listed properties.
type PropertyCondition struct {
	PropertyIDs []uuid.UUID `json:"propertyIds"`
}

// RoleCondition matches events performed by an actor holding one of the roles.
type RoleCondition struct {
	Roles []string `json:"roles"`
}

// PriorityCondition matches events whose request priority is in the set.
type PriorityCondition struct {
	Priorities []Priority `json:"priorities"`
}

// TimeWindowCondition matches when the evaluation happens within the window.
type TimeWindowCondition struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// PredicateCondition matches via a named predicate registered with the
// engine. Only the name is persisted.
type PredicateCondition struct {
	Name string `json:"name"`
}

func (PropertyCondition) isCondition()   {}
func (RoleCondition) isCondition()       {}
func (PriorityCondition) isCondition()   {}
func (TimeWindowCondition) isCondition() {}
func (PredicateCondition) isCondition()  {}

type conditionEnvelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// MarshalConditions encodes conditions with a type discriminator for storage.
func MarshalConditions(conds []Condition) ([]byte, error) {
	envelopes := make([]conditionEnvelope, 0, len(conds))
	for _, c := range conds {
		body, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		var kind string
		switch c.(type) {
		case PropertyCondition:
			kind = "property"
		case RoleCondition:
			kind = "role"
		case PriorityCondition:
			kind = "priority"
		case TimeWindowCondition:
			kind = "time_window"
		case PredicateCondition:
			kind = "custom"
		default:
			return nil, fmt.Errorf("unknown condition type %T", c)
		}
		envelopes = append(envelopes, conditionEnvelope{Type: kind, Body: body})
	}
	return json.Marshal(envelopes)
}

// UnmarshalConditions decodes the storage form back into typed conditions.
func UnmarshalConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var envelopes []conditionEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, err
	}
	conds := make([]Condition, 0, len(envelopes))
	for _, env := range envelopes {
		var c Condition
		switch env.Type {
		case "property":
			var v PropertyCondition
			if err := json.Unmarshal(env.Body, &v); err != nil {
				return nil, err
			}
			c = v
		case "role":
			var v RoleCondition
			if err := json.Unmarshal(env.Body, &v); err != nil {
				return nil, err
			}
			c = v
		case "priority":
			var v PriorityCondition
			if err := json.Unmarshal(env.Body, &v); err != nil {
				return nil, err
			}
			c = v
		case "time_window":
			var v TimeWindowCondition
			if err := json.Unmarshal(env.Body, &v); err != nil {
				return nil, err
			}
			c = v
		case "custom":
			var v PredicateCondition
			if err := json.Unmarshal(env.Body, &v); err != nil {
				return nil, err
			}
			c = v
		default:
			return nil, fmt.Errorf("unknown condition type %q", env.Type)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// SelectorKind identifies how a rule resolves its recipients.
type SelectorKind string

const (
	SelectUsers    SelectorKind = "users"    // explicit user ids
	SelectRoles    SelectorKind = "roles"    // everyone holding a role
	SelectProperty SelectorKind = "property" // members of the event's property
)

// RecipientSelector describes who a rule notifies. Property selection uses
// the property carried by the triggering event.
type RecipientSelector struct {
	Kind    SelectorKind `json:"kind" yaml:"kind"`
	UserIDs []uuid.UUID  `json:"userIds,omitempty" yaml:"user_ids,omitempty"`
	Roles   []string     `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// RuleAnalytics are monotonically increasing counters kept per rule.
type RuleAnalytics struct {
	Matched   int64 `json:"matched"`
	Notified  int64 `json:"notified"`
	Delivered int64 `json:"delivered"`
}

// NotificationRule maps a trigger event plus conditions onto a delivery
// action.
type NotificationRule struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	Event            string            `json:"event"`
	Conditions       []Condition       `json:"conditions,omitempty"`
	Channels         []Channel         `json:"channels"`
	Recipients       RecipientSelector `json:"recipients"`
	Template         string            `json:"template"`
	EscalationRuleID *uuid.UUID        `json:"escalationRuleId,omitempty"`
	Enabled          bool              `json:"enabled"`
	Analytics        RuleAnalytics     `json:"analytics"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}
