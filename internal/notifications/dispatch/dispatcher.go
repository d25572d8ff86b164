// Package dispatch fans notifications out across delivery channels.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/logger"
)

// Message is the rendered payload handed to a channel adapter.
type Message struct {
	NotificationID uuid.UUID
	Title          string
	Body           string
	Priority       domain.Priority
}

// Adapter delivers a message over one channel. Implementations must respect
// the context deadline.
type Adapter interface {
	Send(ctx context.Context, to domain.Preferences, msg Message) error
}

// Store is the slice of notification persistence the dispatcher needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Notification, error)
	SaveDelivery(ctx context.Context, id uuid.UUID, delivery map[string]domain.DeliveryState, status domain.Status) error
}

// PreferenceSource loads recipient contact details.
type PreferenceSource interface {
	GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.Preferences, error)
}

// DeliveryRecorder feeds the per-rule analytics counters.
type DeliveryRecorder interface {
	RecordDelivered(ctx context.Context, ruleID uuid.UUID, delivered int) error
}

// maxConcurrentSends bounds the fan-out so one large notification cannot
// monopolize SMTP or gateway connections.
const maxConcurrentSends = 8

type Dispatcher struct {
	store    Store
	prefs    PreferenceSource
	recorder DeliveryRecorder
	adapters map[domain.Channel]Adapter
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func New(store Store, prefs PreferenceSource, recorder DeliveryRecorder, adapters map[domain.Channel]Adapter, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:    store,
		prefs:    prefs,
		recorder: recorder,
		adapters: adapters,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Deliver runs the initial fan-out for a notification. Every (recipient,
// channel) pair is attempted independently; a failing channel never blocks
// its siblings and is recorded on the delivery map instead of surfacing as
// an error. Pairs already marked sent are skipped, so redelivery after a
// crash is safe.
func (d *Dispatcher) Deliver(ctx context.Context, id uuid.UUID) error {
	n, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch n.Status {
	case domain.StatusCancelled, domain.StatusExpired:
		return nil
	}
	if n.ExpiresAt != nil && d.now().After(*n.ExpiresAt) {
		return d.store.SaveDelivery(ctx, n.ID, n.Delivery, domain.StatusExpired)
	}

	delivery := n.Delivery
	if delivery == nil {
		delivery = make(map[string]domain.DeliveryState)
	}
	outcomes := d.fanOut(ctx, &n, n.Recipients, Message{
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Message,
		Priority:       n.Priority,
	}, delivery)

	status := domain.StatusSent
	if outcomes.attempted > 0 && outcomes.succeeded == 0 {
		status = domain.StatusFailed
	}
	if err := d.store.SaveDelivery(ctx, n.ID, delivery, status); err != nil {
		return err
	}
	if n.RuleID != nil && outcomes.succeeded > 0 {
		if err := d.recorder.RecordDelivered(ctx, *n.RuleID, outcomes.succeeded); err != nil {
			d.log.Error("record delivery analytics failed", "rule_id", *n.RuleID, "error", err)
		}
	}
	return nil
}

type fanOutResult struct {
	attempted int
	succeeded int
}

// EscalationFanOut delivers a fresh round to an escalation level's
// recipients. It reports whether every attempted send succeeded; the caller
// owns persisting the escalation step.
func (d *Dispatcher) EscalationFanOut(ctx context.Context, n *domain.Notification, recipients []domain.Recipient, body string) bool {
	res := d.fanOut(ctx, n, recipients, Message{
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           body,
		Priority:       n.Priority,
	}, make(map[string]domain.DeliveryState))
	return res.attempted > 0 && res.succeeded == res.attempted
}

func (d *Dispatcher) fanOut(ctx context.Context, n *domain.Notification, recipients []domain.Recipient, msg Message, delivery map[string]domain.DeliveryState) fanOutResult {
	ids := make([]uuid.UUID, len(recipients))
	for i, r := range recipients {
		ids[i] = r.UserID
	}
	prefs, err := d.prefs.GetMany(ctx, ids)
	if err != nil {
		d.log.Error("load recipient preferences failed", "notification_id", n.ID, "error", err)
		return fanOutResult{}
	}

	var (
		mu  sync.Mutex
		res fanOutResult
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)
	for _, recipient := range recipients {
		pref, ok := prefs[recipient.UserID]
		if !ok {
			continue
		}
		for _, channel := range recipient.Channels {
			key := domain.DeliveryKey(recipient.UserID, channel)
			mu.Lock()
			already := delivery[key].Sent
			mu.Unlock()
			if already {
				continue
			}
			adapter, ok := d.adapters[channel]
			if !ok {
				mu.Lock()
				delivery[key] = domain.DeliveryState{Error: "no adapter for channel " + string(channel)}
				res.attempted++
				mu.Unlock()
				continue
			}
			pref, channel, key := pref, channel, key
			g.Go(func() error {
				sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
				defer cancel()
				err := adapter.Send(sendCtx, pref, msg)

				mu.Lock()
				defer mu.Unlock()
				res.attempted++
				if err != nil {
					delivery[key] = domain.DeliveryState{Error: err.Error()}
					d.log.DeliveryOutcome(n.ID.String(), pref.UserID.String(), string(channel), err)
					return nil
				}
				at := d.now()
				delivery[key] = domain.DeliveryState{Sent: true, DeliveredAt: &at}
				res.succeeded++
				d.log.DeliveryOutcome(n.ID.String(), pref.UserID.String(), string(channel), nil)
				return nil
			})
		}
	}
	_ = g.Wait()
	return res
}
