package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/logger"

	"github.com/google/uuid"
)

// testStore keeps one notification under the same conditional-update rules
// the SQL store enforces: a claim is exclusive, and an advance only lands
// while the claim token matches and no acknowledgment has been recorded.
type testStore struct {
	mu        sync.Mutex
	due       []uuid.UUID
	n         domain.Notification
	ladder    Ladder
	claimedBy *uuid.UUID
	acked     bool
	advanced  int
}

func (s *testStore) Due(_ context.Context, _ time.Time, _ int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.due...), nil
}

func (s *testStore) Claim(_ context.Context, _ uuid.UUID, token uuid.UUID, _ time.Duration, now time.Time) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.n.Escalation
	if s.claimedBy != nil || s.acked || es == nil || es.NextEscalationAt == nil || es.NextEscalationAt.After(now) {
		return domain.Notification{}, apperr.ClaimLost("escalation already claimed or resolved")
	}
	tok := token
	s.claimedBy = &tok
	snapshot := s.n
	state := *es
	state.History = append([]domain.EscalationStep(nil), es.History...)
	snapshot.Escalation = &state
	return snapshot, nil
}

func (s *testStore) Advance(_ context.Context, _ uuid.UUID, token uuid.UUID, state *domain.EscalationState, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimedBy == nil || *s.claimedBy != token || s.acked {
		return apperr.ClaimLost("escalation claim expired or notification acknowledged")
	}
	s.n.Escalation = state
	s.n.Status = status
	s.claimedBy = nil
	s.advanced++
	return nil
}

func (s *testStore) Release(_ context.Context, _ uuid.UUID, token uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimedBy != nil && *s.claimedBy == token {
		s.claimedBy = nil
	}
	return nil
}

func (s *testStore) GetLadder(_ context.Context, _ uuid.UUID) (Ladder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ladder, nil
}

func (s *testStore) UpsertLadder(_ context.Context, _ *Ladder) error { return nil }

func (s *testStore) setAcked() {
	s.mu.Lock()
	s.acked = true
	s.mu.Unlock()
}

type testFanOut struct {
	mu    sync.Mutex
	calls int
	ok    bool
	hook  func()
}

func (f *testFanOut) EscalationFanOut(_ context.Context, _ *domain.Notification, _ []domain.Recipient, _ string) bool {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	return f.ok
}

func twoLevelLadder(manager uuid.UUID) Ladder {
	return Ladder{
		ID:   uuid.New(),
		Name: "after-hours",
		Levels: []Level{
			{
				DelayMinutes:           15,
				Recipients:             domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{manager}},
				Channels:               []domain.Channel{domain.ChannelSMS},
				RequiresAcknowledgment: true,
			},
			{
				DelayMinutes: 30,
				Recipients:   domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{manager}},
				Channels:     []domain.Channel{domain.ChannelSMS, domain.ChannelEmail},
			},
		},
	}
}

func newTickService(store *testStore, fanout *testFanOut, now time.Time) *Service {
	log := logger.New("test")
	return &Service{
		repo:     store,
		fanout:   fanout,
		dir:      &testDirectory{},
		acks:     &testAcknowledger{},
		bus:      events.NewInMemoryBus(log),
		log:      log,
		claimTTL: 30 * time.Second,
		batch:    50,
		now:      func() time.Time { return now },
	}
}

func dueStore(ladder Ladder, now time.Time) *testStore {
	id := uuid.New()
	deadline := now.Add(-time.Minute)
	return &testStore{
		due:    []uuid.UUID{id},
		ladder: ladder,
		n: domain.Notification{
			ID:       id,
			Priority: domain.PriorityUrgent,
			Message:  "pipe burst in unit 4",
			Status:   domain.StatusSent,
			Escalation: &domain.EscalationState{
				RuleID:           &ladder.ID,
				NextEscalationAt: &deadline,
			},
		},
	}
}

func TestTick_AdvancesLevelAndSchedulesNext(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	manager := uuid.New()
	store := dueStore(twoLevelLadder(manager), now)
	fanout := &testFanOut{ok: true}
	svc := newTickService(store, fanout, now)

	summary, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.Due != 1 || summary.Advanced != 1 {
		t.Fatalf("expected one advance, got %+v", summary)
	}
	state := store.n.Escalation
	if state.Level != 1 || len(state.History) != 1 {
		t.Fatalf("level and history should advance together, got %+v", state)
	}
	if state.History[0].Recipients[0] != manager || !state.History[0].Success {
		t.Fatalf("history step should record the fan-out, got %+v", state.History[0])
	}
	want := now.Add(30 * time.Minute)
	if state.NextEscalationAt == nil || !state.NextEscalationAt.Equal(want) {
		t.Fatalf("next deadline should follow the next level's delay, got %v", state.NextEscalationAt)
	}
}

func TestTick_AcknowledgmentDuringFanOutIsNotClobbered(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	store := dueStore(twoLevelLadder(uuid.New()), now)
	// The acknowledgment lands while the fan-out is still in flight, after
	// the claim was taken but before the advance writes back.
	fanout := &testFanOut{ok: true}
	fanout.hook = store.setAcked
	svc := newTickService(store, fanout, now)

	summary, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.ClaimLost != 1 || summary.Advanced != 0 || summary.Errors != 0 {
		t.Fatalf("acknowledged notification must not advance, got %+v", summary)
	}
	state := store.n.Escalation
	if state.Level != 0 || len(state.History) != 0 {
		t.Fatalf("stored state must keep the pre-claim snapshot, got %+v", state)
	}
	if store.advanced != 0 {
		t.Fatalf("no advance may be written over an acknowledgment")
	}
}

func TestTick_ConcurrentTickersAdvanceExactlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	store := dueStore(twoLevelLadder(uuid.New()), now)
	fanout := &testFanOut{ok: true}
	fanout.hook = func() { time.Sleep(5 * time.Millisecond) }
	svc := newTickService(store, fanout, now)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries []TickSummary
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := svc.Tick(context.Background())
			if err != nil {
				t.Errorf("tick: %v", err)
				return
			}
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var advanced, lost int
	for _, s := range summaries {
		advanced += s.Advanced
		lost += s.ClaimLost
	}
	if advanced != 1 || lost != 1 {
		t.Fatalf("exactly one ticker may win the claim, got advanced=%d lost=%d", advanced, lost)
	}
	if len(store.n.Escalation.History) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(store.n.Escalation.History))
	}
}

func TestTick_ExhaustedLadderExpires(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	ladder := twoLevelLadder(uuid.New())
	store := dueStore(ladder, now)
	store.n.Escalation.Level = 1
	fanout := &testFanOut{ok: true}
	svc := newTickService(store, fanout, now)

	summary, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.Exhausted != 1 {
		t.Fatalf("final level should exhaust the ladder, got %+v", summary)
	}
	if store.n.Status != domain.StatusExpired {
		t.Fatalf("exhausted ladder should expire the notification, got %s", store.n.Status)
	}
	if store.n.Escalation.NextEscalationAt != nil {
		t.Fatalf("exhausted ladder must leave the schedule")
	}
}

func TestInitialDeadline_FollowsFirstLevelDelay(t *testing.T) {
	ladder := twoLevelLadder(uuid.New())
	store := &testStore{ladder: ladder}
	svc := newTickService(store, &testFanOut{}, time.Now())

	from := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	deadline, err := svc.InitialDeadline(context.Background(), ladder.ID, from)
	if err != nil {
		t.Fatalf("initial deadline: %v", err)
	}
	if deadline == nil || !deadline.Equal(from.Add(15*time.Minute)) {
		t.Fatalf("deadline should follow the first level's delay, got %v", deadline)
	}
}

func TestInitialDeadline_UngatedLadderNeverScheduled(t *testing.T) {
	ladder := twoLevelLadder(uuid.New())
	ladder.Levels[0].RequiresAcknowledgment = false
	store := &testStore{ladder: ladder}
	svc := newTickService(store, &testFanOut{}, time.Now())

	deadline, err := svc.InitialDeadline(context.Background(), ladder.ID, time.Now())
	if err != nil {
		t.Fatalf("initial deadline: %v", err)
	}
	if deadline != nil {
		t.Fatalf("a ladder with no acknowledgment-gated level must not be scheduled, got %v", deadline)
	}
}

type testDirectory struct {
	byRole map[string][]uuid.UUID
}

func (d *testDirectory) UsersByRole(_ context.Context, roles []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, role := range roles {
		out = append(out, d.byRole[role]...)
	}
	return out, nil
}

type testAcknowledger struct {
	notification domain.Notification
	found        bool
	acked        []time.Time
}

func (a *testAcknowledger) GetByID(_ context.Context, _ uuid.UUID) (domain.Notification, error) {
	if !a.found {
		return domain.Notification{}, apperr.NotFound("notification not found")
	}
	return a.notification, nil
}

func (a *testAcknowledger) Acknowledge(_ context.Context, _ uuid.UUID, at time.Time) (bool, error) {
	a.acked = append(a.acked, at)
	return len(a.acked) == 1, nil
}

func newTestService(dir *testDirectory, acks *testAcknowledger) *Service {
	log := logger.New("test")
	return &Service{
		dir:  dir,
		acks: acks,
		bus:  events.NewInMemoryBus(log),
		log:  log,
		now:  time.Now,
	}
}

func TestResolveLevel_RolesDeduplicated(t *testing.T) {
	shared := uuid.New()
	other := uuid.New()
	dir := &testDirectory{byRole: map[string][]uuid.UUID{
		"property_manager": {shared, other},
		"operations_lead":  {shared},
	}}
	svc := newTestService(dir, &testAcknowledger{})

	level := Level{
		Recipients: domain.RecipientSelector{
			Kind:  domain.SelectRoles,
			Roles: []string{"property_manager", "operations_lead"},
		},
		Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelEmail},
	}

	recipients, err := svc.resolveLevel(context.Background(), level)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("expected 2 deduplicated recipients, got %d", len(recipients))
	}
	for _, r := range recipients {
		if len(r.Channels) != 2 {
			t.Fatalf("level channels should apply to every recipient, got %v", r.Channels)
		}
	}
}

func TestResolveLevel_ExplicitUsers(t *testing.T) {
	userID := uuid.New()
	svc := newTestService(&testDirectory{}, &testAcknowledger{})

	recipients, err := svc.resolveLevel(context.Background(), Level{
		Recipients: domain.RecipientSelector{Kind: domain.SelectUsers, UserIDs: []uuid.UUID{userID, userID}},
		Channels:   []domain.Channel{domain.ChannelPush},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(recipients) != 1 || recipients[0].UserID != userID {
		t.Fatalf("expected the single user once, got %+v", recipients)
	}
}

func TestResolveLevel_PropertySelectorRejected(t *testing.T) {
	svc := newTestService(&testDirectory{}, &testAcknowledger{})
	_, err := svc.resolveLevel(context.Background(), Level{
		Recipients: domain.RecipientSelector{Kind: domain.SelectProperty},
	})
	if err == nil {
		t.Fatalf("property selectors have no event context inside a ladder and must be rejected")
	}
}

func TestLevelMessage(t *testing.T) {
	n := domain.Notification{Message: "pipe burst in unit 4"}
	if got := levelMessage(Level{Message: "call the manager"}, n); got != "call the manager" {
		t.Fatalf("explicit level message should win, got %q", got)
	}
	if got := levelMessage(Level{}, n); got != "Unacknowledged: pipe burst in unit 4" {
		t.Fatalf("fallback message wrong: %q", got)
	}
}

func TestAcknowledge_FirstWinsLaterNoOp(t *testing.T) {
	acks := &testAcknowledger{found: true}
	svc := newTestService(&testDirectory{}, acks)
	id := uuid.New()

	if err := svc.Acknowledge(context.Background(), id, uuid.New()); err != nil {
		t.Fatalf("first acknowledge: %v", err)
	}
	if err := svc.Acknowledge(context.Background(), id, uuid.New()); err != nil {
		t.Fatalf("repeat acknowledge must be a no-op, got %v", err)
	}
	if len(acks.acked) != 2 {
		t.Fatalf("expected both calls to reach the store, got %d", len(acks.acked))
	}
}

func TestAcknowledge_UnknownNotification(t *testing.T) {
	svc := newTestService(&testDirectory{}, &testAcknowledger{found: false})
	err := svc.Acknowledge(context.Background(), uuid.New(), uuid.New())
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
