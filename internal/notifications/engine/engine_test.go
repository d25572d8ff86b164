package engine

import (
	"context"
	"testing"
	"time"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
)

type testRules struct {
	rules   []domain.NotificationRule
	matches map[uuid.UUID]int
}

func (r *testRules) ListActiveByEvent(_ context.Context, event string) ([]domain.NotificationRule, error) {
	var out []domain.NotificationRule
	for _, rule := range r.rules {
		if rule.Event == event {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *testRules) RecordMatch(_ context.Context, ruleID uuid.UUID, notified int) error {
	if r.matches == nil {
		r.matches = make(map[uuid.UUID]int)
	}
	r.matches[ruleID] = notified
	return nil
}

type testPrefs struct {
	prefs map[uuid.UUID]domain.Preferences
}

func (p *testPrefs) GetMany(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.Preferences, error) {
	out := make(map[uuid.UUID]domain.Preferences, len(userIDs))
	for _, id := range userIDs {
		if pref, ok := p.prefs[id]; ok {
			out[id] = pref
		}
	}
	return out, nil
}

type testDirectory struct {
	byRole     map[string][]uuid.UUID
	byProperty map[uuid.UUID][]uuid.UUID
}

func (d *testDirectory) UsersByRole(_ context.Context, roles []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, role := range roles {
		out = append(out, d.byRole[role]...)
	}
	return out, nil
}

func (d *testDirectory) UsersForProperty(_ context.Context, propertyID uuid.UUID) ([]uuid.UUID, error) {
	return d.byProperty[propertyID], nil
}

type testWriter struct {
	inserted []*domain.Notification
}

func (w *testWriter) Insert(_ context.Context, n *domain.Notification) error {
	w.inserted = append(w.inserted, n)
	return nil
}

type testPlanner struct {
	deadline time.Time
}

func (p *testPlanner) InitialDeadline(_ context.Context, _ uuid.UUID, _ time.Time) (*time.Time, error) {
	d := p.deadline
	return &d, nil
}

func daytime() time.Time {
	return time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
}

func optedIn(userIDs ...uuid.UUID) *testPrefs {
	prefs := make(map[uuid.UUID]domain.Preferences, len(userIDs))
	for _, id := range userIDs {
		prefs[id] = domain.Preferences{
			UserID:     id,
			Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelInApp},
			QuietHours: domain.QuietHours{Enabled: false},
		}
	}
	return &testPrefs{prefs: prefs}
}

func newTestEngine(rules *testRules, prefs *testPrefs, dir *testDirectory, writer *testWriter, planner *testPlanner) *Engine {
	log := logger.New("test")
	return New(rules, prefs, dir, writer, planner, events.NewInMemoryBus(log), log).
		WithClock(daytime)
}

func TestEvaluate_RuleFiresAndRecordsAnalytics(t *testing.T) {
	userID := uuid.New()
	rule := domain.NotificationRule{
		ID:         uuid.New(),
		Name:       "new request",
		Event:      domain.TriggerRequestCreated,
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID}},
		Enabled:    true,
	}
	rules := &testRules{rules: []domain.NotificationRule{rule}}
	writer := &testWriter{}
	eng := newTestEngine(rules, optedIn(userID), &testDirectory{}, writer, &testPlanner{})

	err := eng.Evaluate(context.Background(), domain.TriggerEvent{
		Type:     domain.TriggerRequestCreated,
		Priority: domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(writer.inserted) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(writer.inserted))
	}
	n := writer.inserted[0]
	if n.Status != domain.StatusPending || n.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected notification: status=%s priority=%s", n.Status, n.Priority)
	}
	if len(n.Recipients) != 1 || n.Recipients[0].UserID != userID {
		t.Fatalf("unexpected recipients: %+v", n.Recipients)
	}
	if rules.matches[rule.ID] != 1 {
		t.Fatalf("expected notified count 1, got %d", rules.matches[rule.ID])
	}
}

func TestEvaluate_ConditionsFilter(t *testing.T) {
	propertyID := uuid.New()
	userID := uuid.New()
	rule := domain.NotificationRule{
		ID:    uuid.New(),
		Event: domain.TriggerRequestCreated,
		Conditions: []domain.Condition{
			domain.PropertyCondition{PropertyIDs: []uuid.UUID{propertyID}},
			domain.PriorityCondition{Priorities: []domain.Priority{domain.PriorityUrgent}},
		},
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID}},
	}
	writer := &testWriter{}
	eng := newTestEngine(&testRules{rules: []domain.NotificationRule{rule}},
		optedIn(userID), &testDirectory{}, writer, &testPlanner{})

	// Wrong property: no match.
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{
		Type: domain.TriggerRequestCreated, PropertyID: uuid.New(), Priority: domain.PriorityUrgent,
	})
	if len(writer.inserted) != 0 {
		t.Fatalf("wrong property should not match")
	}

	// Wrong priority: no match.
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{
		Type: domain.TriggerRequestCreated, PropertyID: propertyID, Priority: domain.PriorityLow,
	})
	if len(writer.inserted) != 0 {
		t.Fatalf("wrong priority should not match")
	}

	// Both conditions satisfied.
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{
		Type: domain.TriggerRequestCreated, PropertyID: propertyID, Priority: domain.PriorityUrgent,
	})
	if len(writer.inserted) != 1 {
		t.Fatalf("expected a match when all conditions hold")
	}
}

func TestEvaluate_TimeWindowCondition(t *testing.T) {
	userID := uuid.New()
	rule := domain.NotificationRule{
		ID:    uuid.New(),
		Event: domain.TriggerRequestCreated,
		Conditions: []domain.Condition{
			domain.TimeWindowCondition{Start: 22 * 60, End: 6 * 60},
		},
		Channels:   []domain.Channel{domain.ChannelInApp},
		Recipients: domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID}},
	}
	writer := &testWriter{}
	eng := newTestEngine(&testRules{rules: []domain.NotificationRule{rule}},
		optedIn(userID), &testDirectory{}, writer, &testPlanner{})

	// Clock is 14:00, outside the overnight window.
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestCreated})
	if len(writer.inserted) != 0 {
		t.Fatalf("daytime event should not match an overnight window")
	}

	eng.WithClock(func() time.Time { return time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC) })
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestCreated})
	if len(writer.inserted) != 1 {
		t.Fatalf("23:30 event should match the overnight window")
	}
}

func TestEvaluate_PredicateCondition(t *testing.T) {
	userID := uuid.New()
	rule := domain.NotificationRule{
		ID:         uuid.New(),
		Event:      domain.TriggerRequestCreated,
		Conditions: []domain.Condition{domain.PredicateCondition{Name: "plumbing_only"}},
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID}},
	}
	writer := &testWriter{}
	eng := newTestEngine(&testRules{rules: []domain.NotificationRule{rule}},
		optedIn(userID), &testDirectory{}, writer, &testPlanner{})

	// Unregistered predicate never matches.
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestCreated})
	if len(writer.inserted) != 0 {
		t.Fatalf("unregistered predicate must not match")
	}

	eng.RegisterPredicate("plumbing_only", func(ev domain.TriggerEvent) bool {
		return ev.Status == "submitted"
	})
	_ = eng.Evaluate(context.Background(), domain.TriggerEvent{
		Type: domain.TriggerRequestCreated, Status: "submitted",
	})
	if len(writer.inserted) != 1 {
		t.Fatalf("registered predicate should match")
	}
}

func TestEvaluate_RoleSelectorDeduplicates(t *testing.T) {
	shared := uuid.New()
	other := uuid.New()
	dir := &testDirectory{byRole: map[string][]uuid.UUID{
		"manager": {shared, other},
		"owner":   {shared},
	}}
	rule := domain.NotificationRule{
		ID:         uuid.New(),
		Event:      domain.TriggerRequestStatusChanged,
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: domain.RecipientSelector{Kind: domain.SelectRoles, Roles: []string{"manager", "owner"}},
	}
	writer := &testWriter{}
	eng := newTestEngine(&testRules{rules: []domain.NotificationRule{rule}},
		optedIn(shared, other), dir, writer, &testPlanner{})

	if err := eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestStatusChanged}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(writer.inserted) != 1 || len(writer.inserted[0].Recipients) != 2 {
		t.Fatalf("expected 2 deduplicated recipients, got %+v", writer.inserted)
	}
}

func TestEvaluate_NoRecipientsStillRecordsMatch(t *testing.T) {
	rule := domain.NotificationRule{
		ID:         uuid.New(),
		Event:      domain.TriggerRequestCreated,
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: domain.RecipientSelector{Kind: domain.SelectRoles, Roles: []string{"nobody"}},
	}
	rules := &testRules{rules: []domain.NotificationRule{rule}}
	writer := &testWriter{}
	eng := newTestEngine(rules, &testPrefs{}, &testDirectory{}, writer, &testPlanner{})

	if err := eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestCreated}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(writer.inserted) != 0 {
		t.Fatalf("no recipients should create no notification")
	}
	if got, ok := rules.matches[rule.ID]; !ok || got != 0 {
		t.Fatalf("match with zero notified should still be recorded, got %d ok=%v", got, ok)
	}
}

func TestEvaluate_EscalationDeadlineAttached(t *testing.T) {
	userID := uuid.New()
	ladderID := uuid.New()
	deadline := daytime().Add(15 * time.Minute)
	rule := domain.NotificationRule{
		ID:               uuid.New(),
		Event:            domain.TriggerRequestCreated,
		Channels:         []domain.Channel{domain.ChannelEmail},
		Recipients:       domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID}},
		EscalationRuleID: &ladderID,
	}
	writer := &testWriter{}
	eng := newTestEngine(&testRules{rules: []domain.NotificationRule{rule}},
		optedIn(userID), &testDirectory{}, writer, &testPlanner{deadline: deadline})

	if err := eng.Evaluate(context.Background(), domain.TriggerEvent{Type: domain.TriggerRequestCreated}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	n := writer.inserted[0]
	if n.Escalation == nil || n.Escalation.RuleID == nil || *n.Escalation.RuleID != ladderID {
		t.Fatalf("expected escalation state bound to the ladder, got %+v", n.Escalation)
	}
	if n.Escalation.NextEscalationAt == nil || !n.Escalation.NextEscalationAt.Equal(deadline) {
		t.Fatalf("expected first deadline %v, got %v", deadline, n.Escalation.NextEscalationAt)
	}
	if n.Escalation.Level != 0 {
		t.Fatalf("new notifications start at level 0, got %d", n.Escalation.Level)
	}
}
