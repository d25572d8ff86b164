// Package engine evaluates notification rules against domain events and
// materializes notification records.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/logger"
)

// RuleSource provides the active rules for an event and records analytics.
type RuleSource interface {
	ListActiveByEvent(ctx context.Context, event string) ([]domain.NotificationRule, error)
	RecordMatch(ctx context.Context, ruleID uuid.UUID, notified int) error
}

// PreferenceSource loads recipient preferences in bulk.
type PreferenceSource interface {
	GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.Preferences, error)
}

// Directory resolves recipient selectors to user ids.
type Directory interface {
	UsersByRole(ctx context.Context, roles []string) ([]uuid.UUID, error)
	UsersForProperty(ctx context.Context, propertyID uuid.UUID) ([]uuid.UUID, error)
}

// NotificationWriter persists materialized notifications.
type NotificationWriter interface {
	Insert(ctx context.Context, n *domain.Notification) error
}

// EscalationPlanner computes the first escalation deadline for a ladder.
type EscalationPlanner interface {
	InitialDeadline(ctx context.Context, ladderID uuid.UUID, from time.Time) (*time.Time, error)
}

// Predicate is a named custom condition evaluated in process.
type Predicate func(ev domain.TriggerEvent) bool

type Engine struct {
	rules   RuleSource
	prefs   PreferenceSource
	dir     Directory
	writer  NotificationWriter
	planner EscalationPlanner
	bus     events.Bus
	log     *logger.Logger
	now     func() time.Time

	mu         sync.RWMutex
	predicates map[string]Predicate
}

func New(rules RuleSource, prefs PreferenceSource, dir Directory, writer NotificationWriter, planner EscalationPlanner, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{
		rules:      rules,
		prefs:      prefs,
		dir:        dir,
		writer:     writer,
		planner:    planner,
		bus:        bus,
		log:        log,
		now:        time.Now,
		predicates: make(map[string]Predicate),
	}
}

// WithClock overrides the time source. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RegisterPredicate makes a named predicate available to custom conditions.
func (e *Engine) RegisterPredicate(name string, p Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicates[name] = p
}

func (e *Engine) predicate(name string) (Predicate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.predicates[name]
	return p, ok
}

// Evaluate matches the event against every active rule for its type and
// creates one notification per matching rule. A failing rule never blocks
// the others.
func (e *Engine) Evaluate(ctx context.Context, ev domain.TriggerEvent) error {
	rules, err := e.rules.ListActiveByEvent(ctx, ev.Type)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if !e.matches(rule, ev) {
			continue
		}
		if err := e.fire(ctx, rule, ev); err != nil {
			e.log.Error("notification rule failed",
				"rule_id", rule.ID, "rule_name", rule.Name, "event", ev.Type, "error", err)
		}
	}
	return nil
}

func (e *Engine) matches(rule domain.NotificationRule, ev domain.TriggerEvent) bool {
	for _, cond := range rule.Conditions {
		switch c := cond.(type) {
		case domain.PropertyCondition:
			if !containsUUID(c.PropertyIDs, ev.PropertyID) {
				return false
			}
		case domain.RoleCondition:
			if !containsString(c.Roles, ev.ActorRole) {
				return false
			}
		case domain.PriorityCondition:
			if !containsPriority(c.Priorities, ev.Priority) {
				return false
			}
		case domain.TimeWindowCondition:
			if !domain.InWindow(domain.At(e.now()), c.Start, c.End) {
				return false
			}
		case domain.PredicateCondition:
			p, ok := e.predicate(c.Name)
			if !ok || !p(ev) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (e *Engine) fire(ctx context.Context, rule domain.NotificationRule, ev domain.TriggerEvent) error {
	userIDs, err := e.resolveRecipients(ctx, rule.Recipients, ev)
	if err != nil {
		return err
	}
	prefs, err := e.prefs.GetMany(ctx, userIDs)
	if err != nil {
		return err
	}

	priority := notificationPriority(ev)
	now := e.now()
	recipients := make([]domain.Recipient, 0, len(userIDs))
	for _, id := range userIDs {
		p, ok := prefs[id]
		if !ok {
			continue
		}
		recipients = append(recipients, domain.Recipient{
			UserID:   id,
			Channels: p.AllowedChannels(rule.Channels, priority, now),
		})
	}
	if len(recipients) == 0 {
		return e.rules.RecordMatch(ctx, rule.ID, 0)
	}

	ruleID := rule.ID
	n := &domain.Notification{
		ID:         uuid.New(),
		RuleID:     &ruleID,
		Type:       ev.Type,
		Priority:   priority,
		Title:      renderTitle(rule, ev),
		Message:    renderMessage(rule, ev),
		Recipients: recipients,
		Status:     domain.StatusPending,
	}
	if rule.EscalationRuleID != nil {
		deadline, err := e.planner.InitialDeadline(ctx, *rule.EscalationRuleID, now)
		if err != nil {
			return err
		}
		n.Escalation = &domain.EscalationState{
			RuleID:           rule.EscalationRuleID,
			Level:            0,
			NextEscalationAt: deadline,
		}
	}
	if err := e.writer.Insert(ctx, n); err != nil {
		return err
	}
	if err := e.rules.RecordMatch(ctx, rule.ID, len(recipients)); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.NotificationCreated{
		BaseEvent:      events.NewBaseEvent(),
		NotificationID: n.ID,
		RuleID:         &ruleID,
		Priority:       string(priority),
		ScheduledFor:   n.ScheduledFor,
	})
	return nil
}

func (e *Engine) resolveRecipients(ctx context.Context, sel domain.RecipientSelector, ev domain.TriggerEvent) ([]uuid.UUID, error) {
	var (
		ids []uuid.UUID
		err error
	)
	switch sel.Kind {
	case domain.SelectUsers:
		ids = sel.UserIDs
	case domain.SelectRoles:
		ids, err = e.dir.UsersByRole(ctx, sel.Roles)
	case domain.SelectProperty:
		ids, err = e.dir.UsersForProperty(ctx, ev.PropertyID)
	default:
		return nil, fmt.Errorf("unknown recipient selector %q", sel.Kind)
	}
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// notificationPriority maps a request's priority onto the notification tier.
func notificationPriority(ev domain.TriggerEvent) domain.Priority {
	switch ev.Priority {
	case domain.PriorityUrgent, domain.PriorityHigh, domain.PriorityLow:
		return ev.Priority
	default:
		return domain.PriorityNormal
	}
}

func containsUUID(haystack []uuid.UUID, needle uuid.UUID) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsPriority(haystack []domain.Priority, needle domain.Priority) bool {
	for _, p := range haystack {
		if p == needle {
			return true
		}
	}
	return false
}
