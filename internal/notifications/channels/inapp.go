package channels

import (
	"context"

	"github.com/google/uuid"

	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/internal/notifications/repository"
)

// FeedWriter appends an item to a user's in-app feed.
type FeedWriter interface {
	Append(ctx context.Context, userID, notificationID uuid.UUID, title, message string, priority domain.Priority) (repository.FeedItem, error)
}

// LivePublisher pushes a feed item to any open notification streams.
type LivePublisher interface {
	PublishNotification(userID uuid.UUID, item repository.FeedItem)
}

// InApp writes the notification into the recipient's feed and mirrors it to
// live subscribers. It never leaves the process, so quiet hours do not apply.
type InApp struct {
	feed FeedWriter
	live LivePublisher
}

func NewInApp(feed FeedWriter, live LivePublisher) *InApp {
	return &InApp{feed: feed, live: live}
}

func (a *InApp) Send(ctx context.Context, to domain.Preferences, msg dispatch.Message) error {
	item, err := a.feed.Append(ctx, to.UserID, msg.NotificationID, msg.Title, msg.Body, msg.Priority)
	if err != nil {
		return err
	}
	a.live.PublishNotification(to.UserID, item)
	return nil
}
