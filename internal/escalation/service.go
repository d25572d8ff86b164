package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"propertyops_backend/internal/events"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/config"
	"propertyops_backend/platform/logger"
)

// FanOut delivers one escalation round. Implemented by the dispatcher.
type FanOut interface {
	EscalationFanOut(ctx context.Context, n *domain.Notification, recipients []domain.Recipient, body string) bool
}

// Directory resolves a level's recipient selector to user ids.
type Directory interface {
	UsersByRole(ctx context.Context, roles []string) ([]uuid.UUID, error)
}

// Acknowledger marks a notification acknowledged. Implemented by the
// notifications repository.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Notification, error)
}

// Store is the persistence surface the scheduler drives. Satisfied by
// *Repository; narrowed to an interface so the claim protocol can be
// exercised against a fake.
type Store interface {
	Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) (domain.Notification, error)
	Advance(ctx context.Context, id, token uuid.UUID, state *domain.EscalationState, status domain.Status) error
	Release(ctx context.Context, id, token uuid.UUID) error
	GetLadder(ctx context.Context, id uuid.UUID) (Ladder, error)
	UpsertLadder(ctx context.Context, l *Ladder) error
}

// TickSummary reports what one scheduler pass did.
type TickSummary struct {
	Due       int `json:"due"`
	Advanced  int `json:"advanced"`
	Exhausted int `json:"exhausted"`
	ClaimLost int `json:"claimLost"`
	Errors    int `json:"errors"`
}

type Service struct {
	repo     Store
	fanout   FanOut
	dir      Directory
	acks     Acknowledger
	bus      events.Bus
	log      *logger.Logger
	claimTTL time.Duration
	batch    int
	now      func() time.Time
}

func NewService(repo Store, fanout FanOut, dir Directory, acks Acknowledger, bus events.Bus, log *logger.Logger, cfg config.EscalationConfig) *Service {
	return &Service{
		repo:     repo,
		fanout:   fanout,
		dir:      dir,
		acks:     acks,
		bus:      bus,
		log:      log,
		claimTTL: cfg.GetEscalationClaimTTL(),
		batch:    cfg.GetEscalationTickBatch(),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// InitialDeadline computes when a freshly created notification should first
// escalate. Satisfies the rule engine's planner dependency. Ladders with no
// acknowledgment-gated level get no deadline at all: there is nothing to
// wait for, so the notification never enters the schedule.
func (s *Service) InitialDeadline(ctx context.Context, ladderID uuid.UUID, from time.Time) (*time.Time, error) {
	ladder, err := s.repo.GetLadder(ctx, ladderID)
	if err != nil {
		return nil, err
	}
	if !ladder.AcknowledgmentGated() {
		return nil, nil
	}
	deadline := from.Add(ladder.Levels[0].Delay())
	return &deadline, nil
}

// Tick processes one batch of due escalations. Safe to run from several
// workers at once: each notification is advanced by exactly one of them,
// the rest lose the claim and move on.
func (s *Service) Tick(ctx context.Context) (TickSummary, error) {
	now := s.now()
	ids, err := s.repo.Due(ctx, now, s.batch)
	if err != nil {
		return TickSummary{}, err
	}
	summary := TickSummary{Due: len(ids)}
	for _, id := range ids {
		exhausted, err := s.advance(ctx, id)
		switch {
		case apperr.GetKind(err) == apperr.KindClaimLost:
			summary.ClaimLost++
		case err != nil:
			summary.Errors++
			s.log.Error("escalation advance failed", "notification_id", id, "error", err)
		case exhausted:
			summary.Exhausted++
		default:
			summary.Advanced++
		}
	}
	return summary, nil
}

func (s *Service) advance(ctx context.Context, id uuid.UUID) (exhausted bool, err error) {
	token := uuid.New()
	now := s.now()

	n, err := s.repo.Claim(ctx, id, token, s.claimTTL, now)
	if err != nil {
		return false, err
	}
	state := n.Escalation
	if state == nil || state.RuleID == nil {
		// No ladder attached; clear the stray deadline.
		return true, s.repo.Advance(ctx, id, token, &domain.EscalationState{}, n.Status)
	}

	ladder, err := s.repo.GetLadder(ctx, *state.RuleID)
	if err != nil {
		s.releaseQuietly(ctx, id, token)
		return false, err
	}
	if state.Level >= len(ladder.Levels) {
		state.NextEscalationAt = nil
		return true, s.repo.Advance(ctx, id, token, state, domain.StatusExpired)
	}

	level := ladder.Levels[state.Level]
	recipients, err := s.resolveLevel(ctx, level)
	if err != nil {
		s.releaseQuietly(ctx, id, token)
		return false, err
	}

	ok := s.fanout.EscalationFanOut(ctx, &n, recipients, levelMessage(level, n))

	ids := make([]uuid.UUID, len(recipients))
	for i, r := range recipients {
		ids[i] = r.UserID
	}
	state.History = append(state.History, domain.EscalationStep{
		Level:       state.Level,
		TriggeredAt: now,
		Recipients:  ids,
		Success:     ok,
	})
	state.Level++

	status := n.Status
	if state.Level < len(ladder.Levels) {
		next := now.Add(ladder.Levels[state.Level].Delay())
		state.NextEscalationAt = &next
	} else {
		state.NextEscalationAt = nil
		status = domain.StatusExpired
		exhausted = true
	}
	if err := s.repo.Advance(ctx, id, token, state, status); err != nil {
		return false, err
	}
	s.log.EscalationAdvanced(id.String(), state.Level, exhausted)
	return exhausted, nil
}

func (s *Service) resolveLevel(ctx context.Context, level Level) ([]domain.Recipient, error) {
	var ids []uuid.UUID
	switch level.Recipients.Kind {
	case domain.SelectUsers:
		ids = level.Recipients.UserIDs
	case domain.SelectRoles:
		resolved, err := s.dir.UsersByRole(ctx, level.Recipients.Roles)
		if err != nil {
			return nil, err
		}
		ids = resolved
	default:
		return nil, apperr.Validation("escalation levels support user and role recipients")
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	recipients := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		recipients = append(recipients, domain.Recipient{UserID: id, Channels: level.Channels})
	}
	return recipients, nil
}

func (s *Service) releaseQuietly(ctx context.Context, id, token uuid.UUID) {
	if err := s.repo.Release(ctx, id, token); err != nil {
		s.log.Error("release escalation claim failed", "notification_id", id, "error", err)
	}
}

func levelMessage(level Level, n domain.Notification) string {
	if level.Message != "" {
		return level.Message
	}
	return "Unacknowledged: " + n.Message
}

// Acknowledge halts the ladder for a notification. Later acknowledgments
// are no-ops; escalations already in flight finish their current level but
// schedule nothing further.
func (s *Service) Acknowledge(ctx context.Context, notificationID, userID uuid.UUID) error {
	if _, err := s.acks.GetByID(ctx, notificationID); err != nil {
		return err
	}
	first, err := s.acks.Acknowledge(ctx, notificationID, s.now())
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	s.bus.Publish(ctx, events.NotificationAcknowledged{
		BaseEvent:      events.NewBaseEvent(),
		NotificationID: notificationID,
		UserID:         userID,
	})
	return nil
}

// SeedLadders loads the YAML ladder file and upserts each ladder by name.
// Missing file is not an error; deployments without custom ladders run with
// whatever is already in the database.
func (s *Service) SeedLadders(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	ladders, err := LoadLadderFile(path)
	if err != nil {
		return err
	}
	for i := range ladders {
		if err := s.repo.UpsertLadder(ctx, &ladders[i]); err != nil {
			return err
		}
		s.log.Info("escalation ladder seeded", "name", ladders[i].Name, "levels", len(ladders[i].Levels))
	}
	return nil
}
