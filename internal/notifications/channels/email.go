// Package channels contains the delivery adapters the dispatcher fans out
// through.
package channels

import (
	"context"

	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

// MailSender is the slice of the mail client the adapter needs.
type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Email delivers notifications over SMTP.
type Email struct {
	sender MailSender
}

func NewEmail(sender MailSender) *Email {
	return &Email{sender: sender}
}

func (a *Email) Send(ctx context.Context, to domain.Preferences, msg dispatch.Message) error {
	if to.Email == "" {
		return apperr.Validation("recipient has no email address")
	}
	return a.sender.Send(ctx, to.Email, msg.Title, renderEmailBody(msg))
}
