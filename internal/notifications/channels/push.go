package channels

import (
	"context"

	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/logger"
)

// PushProvider sends one push message to a device token.
type PushProvider interface {
	Push(ctx context.Context, deviceToken, title, body string) error
}

// Push delivers notifications to the recipient's registered device.
type Push struct {
	provider PushProvider
}

func NewPush(provider PushProvider) *Push {
	return &Push{provider: provider}
}

func (a *Push) Send(ctx context.Context, to domain.Preferences, msg dispatch.Message) error {
	if to.PushToken == "" {
		return apperr.Validation("recipient has no registered device")
	}
	return a.provider.Push(ctx, to.PushToken, msg.Title, msg.Body)
}

// LogProvider is the default push backend when no provider is configured.
// It records the push instead of sending it.
type LogProvider struct {
	Log *logger.Logger
}

func (p LogProvider) Push(_ context.Context, deviceToken, title, _ string) error {
	p.Log.Info("push delivery skipped, no provider configured",
		"device_token_prefix", tokenPrefix(deviceToken), "title", title)
	return nil
}

func tokenPrefix(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
